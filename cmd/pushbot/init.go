package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const servicesTemplate = `services:
  - name: example
    repository: owner/repo
    path: /srv/example
    branch: main
    deploy_command: "git pull && ./deploy.sh"
`

func newInitCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a starter services.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(path)
		},
	}

	cmd.Flags().StringVar(&path, "path", "services.yaml", "path to write the services configuration")
	return cmd
}

func runInit(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	var probe map[string]interface{}
	if err := yaml.Unmarshal([]byte(servicesTemplate), &probe); err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}

	if err := os.WriteFile(path, []byte(servicesTemplate), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Printf("wrote %s\n", path)
	return nil
}
