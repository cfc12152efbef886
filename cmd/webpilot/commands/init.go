package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const starterWorkflow = `workflow:
  name: demo-login
  phases:
    - name: login
      description: Authenticate against the demo site
      steps:
        - open:
            url: https://demo.webpilot.dev/login
        - login:
            username: admin
            password: hunter2
        - wait_for:
            selector: "#welcome"
            attr: data-state
            attr_value: ready

    - name: search
      description: Run a search and capture the results
      steps:
        - action: input
          selector: "input[type=\"search\"]"
          value: pilot
        - action: click
          selector: "button[type=\"submit\"]"
        - action: wait_for
          selector: ".result-item, #results-count"
          timeout: 5s
        - action: screenshot
          optional: true

  success_criteria:
    - Dashboard greeted the signed-in user
    - At least one search result rendered
`

const starterConfig = `// Runner configuration. All sections are optional; unset fields fall
// back to the built-in defaults.
runner: {
	name:        "local"
	environment: "development"
}

driver: {
	// "sim" runs the built-in demo site in-process. Point at a driver
	// daemon with kind: "tcp", endpoint: "localhost:7070".
	kind: "sim"
}

engine: {
	max_wait_for_timeout_ms: 10000
	phase_success_mode:      "strict"
	screenshot_on_error:     true
}

telemetry: {
	log_level:  "info"
	log_format: "console"
}

store: {
	path: "webpilot.db"
}

artifacts: {
	sink: "local"
	dir:  "artifacts"
}
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Scaffold a starter workflow and configuration",
		Long: `Write a starter workflow and runner configuration into the given
directory (default: the current directory). The workflow targets the
built-in demo site, so it runs green out of the box:

  webpilot init demo && cd demo && webpilot -c webpilot.cue run login.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			files := []struct {
				name    string
				content string
			}{
				{"login.yaml", starterWorkflow},
				{"webpilot.cue", starterConfig},
			}
			for _, f := range files {
				path := filepath.Join(dir, f.name)
				if !force {
					if _, err := os.Stat(path); err == nil {
						return fmt.Errorf("%s already exists (use --force to overwrite)", path)
					}
				}
				if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}
