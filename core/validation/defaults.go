package validation

// PageDefaults are the input schemas of stores that paginate with
// record.FindParams.
func PageDefaults() Defaults {
	return Defaults{
		Find: Schema{
			"nextPageToken": {Type: String},
			"count":         {Type: Number},
			"equalTo":       {Type: String},
			"orderBy":       {Type: String},
			"startAt":       {Type: String},
			"startAtKey":    {Type: String},
			"endAt":         {Type: String},
			"endAtKey":      {Type: String},
		},
	}
}

// SearchParams is the find input understood by indexed resources.
func SearchParams() Schema {
	return Schema{
		"search":      {Type: String, AllowEmpty: true},
		"searchField": {Type: String},
		"operator":    {Type: String, Valid: []string{"equals"}},
		"from":        {Type: Number},
		"size":        {Type: Number},
		"sort":        {Type: String},
		"sortType":    {Type: String, Valid: []string{"asc", "desc"}},
		"filter":      {Type: String},
	}
}

// FindCommon is merged into every find schema.
func FindCommon() Schema {
	return Schema{
		"all":    {Type: Boolean},
		"filter": {Type: String},
	}
}

// IDParam is merged into every non-empty get and remove schema.
func IDParam() Schema {
	return Schema{"id": {Type: String, Required: true}}
}
