package validation

import (
	"github.com/amber7117/server-api/domain/record"
	"github.com/amber7117/server-api/domain/search"
)

// Project strips every field not named by s and validates what remains.
// Records, slices of records and search-style {total, data} pages are
// projected element-wise; other values pass through.
func Project(output any, s Schema) (any, error) {
	if len(s) == 0 || output == nil {
		return output, nil
	}

	switch v := output.(type) {
	case record.Record:
		return projectRecord(v, s)
	case []record.Record:
		return projectAll(v, s)
	case search.Result:
		data, err := projectAll(v.Data, s)
		if err != nil {
			return nil, err
		}
		return search.Result{Total: v.Total, Data: data}, nil
	}
	return output, nil
}

func projectAll(rs []record.Record, s Schema) ([]record.Record, error) {
	out := make([]record.Record, len(rs))
	for i, r := range rs {
		p, err := projectRecord(r, s)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func projectRecord(r record.Record, s Schema) (record.Record, error) {
	if r == nil {
		return nil, nil
	}
	kept := make(record.Record, len(s))
	for name := range s {
		if v, ok := r[name]; ok {
			kept[name] = v
		}
	}
	return Validate(kept, s, Options{})
}
