package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bazelment/yoloswe/agentcore/skills"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect skills",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List skills found under --skills-dir",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := discoverSkills()
		if err != nil {
			return err
		}
		list := reg.List()
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No skills found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION\tTOOLS")
		for _, s := range list {
			tools := "any"
			if s.Metadata.AllowedTools != nil {
				tools = strings.Join(s.Metadata.AllowedTools, ",")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Metadata.Name, s.Metadata.Description, tools)
		}
		return w.Flush()
	},
}

var skillsFindCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Rank skills by relevance to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := discoverSkills()
		if err != nil {
			return err
		}
		matches := reg.Find(strings.Join(args, " "))
		if len(matches) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No matching skills.")
			return nil
		}
		for _, m := range matches {
			fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", m.Score, m.Skill.Metadata.Name)
		}
		return nil
	},
}

// discoverSkills loads every --skills-dir. Broken skills are logged, not
// fatal.
func discoverSkills() (*skills.Registry, error) {
	dirs := v.GetStringSlice("skills-dir")
	if len(dirs) == 0 {
		return nil, errors.New("no --skills-dir given")
	}
	logger := newLogger()
	reg := skills.NewRegistry(dirs, skills.WithLogger(logger))
	report := reg.Discover()
	for _, err := range report.Errors {
		logger.Warn().Err(err).Msg("skipping skill")
	}
	return reg, nil
}

func init() {
	rootCmd.AddCommand(skillsCmd)
	skillsCmd.AddCommand(skillsListCmd, skillsFindCmd)
}
