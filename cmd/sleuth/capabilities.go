package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/sleuth/internal/capability"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "List worker roles and what they handle",
	Long: `List the worker roles of the capability registry with the task types,
domains and complexity levels each handles. The registry is the built-in
default unless capabilities.file names a YAML file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg := capability.Default()
		source := "built-in"
		if cfg.Capabilities.File != "" {
			if reg, err = capability.LoadFile(cfg.Capabilities.File); err != nil {
				return err
			}
			source = cfg.Capabilities.File
		}

		out := cmd.OutOrStdout()
		color.New(color.Bold).Fprintf(out, "Capability registry (%s)\n", source)
		for _, role := range reg.Roles() {
			c, _ := reg.Capability(role)
			fmt.Fprintf(out, "\n  %s\n", color.CyanString(string(role)))
			fmt.Fprintf(out, "    task types: %s\n", joinTypes(c.TaskTypes))
			fmt.Fprintf(out, "    domains:    %s\n", orAny(c.Domains))
			levels := make([]string, len(c.Complexity))
			for i, l := range c.Complexity {
				levels[i] = string(l)
			}
			fmt.Fprintf(out, "    complexity: %s\n", orAny(levels))
		}
		return nil
	},
}

func joinTypes(types []models.TaskType) string {
	s := make([]string, len(types))
	for i, t := range types {
		s[i] = string(t)
	}
	return strings.Join(s, ", ")
}

func orAny(items []string) string {
	if len(items) == 0 {
		return "any"
	}
	return strings.Join(items, ", ")
}
