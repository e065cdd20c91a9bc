package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/amber7117/server-api/core/openapi"
	"github.com/spf13/cobra"
)

var (
	routesJSON    bool
	routesOpenAPI bool
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the route table",
	Long: `Print every route synthesized from the resource catalog, in
registration order. Custom paths precede the /{id} routes of their resource.

Examples:
  server-api routes
  server-api routes --json
  server-api routes --openapi > openapi.json`,
	RunE: runRoutes,
}

func init() {
	rootCmd.AddCommand(routesCmd)

	routesCmd.Flags().BoolVar(&routesJSON, "json", false, "print routes as JSON")
	routesCmd.Flags().BoolVar(&routesOpenAPI, "openapi", false, "print the OpenAPI document")
}

func runRoutes(cmd *cobra.Command, args []string) error {
	_, reg, err := compileRoutes()
	if err != nil {
		return err
	}
	routes := reg.Routes()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	switch {
	case routesOpenAPI:
		return enc.Encode(openapi.Generate(reg, openapi.Info{Title: "server-api", Version: version}))
	case routesJSON:
		return enc.Encode(routes)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tPATH\tRESOURCE\tOPERATION\tACCESS")
	fmt.Fprintln(w, "------\t----\t--------\t---------\t------")
	for _, r := range routes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Method, r.Path, r.Resource, r.Operation, describePolicy(r))
	}
	return w.Flush()
}
