package main

import (
	"github.com/spf13/cobra"

	"transitmon.dev/transitmon"
)

var nightlyExpected int

var nightlyCheckCmd = &cobra.Command{
	Use:   "nightly-check",
	Short: "Verify today's sample count",
	Long: "Counts polling cycles recorded since local midnight and sends " +
		"an alert if fewer than expected arrived",
	RunE: runNightlyCheck,
}

func init() {
	nightlyCheckCmd.Flags().IntVarP(&nightlyExpected, "expected", "", 0, "Expected cycle count (default from environment)")
}

func runNightlyCheck(cmd *cobra.Command, args []string) error {
	e, err := buildEnv()
	if err != nil {
		return err
	}
	defer e.Store.Close()

	expected := nightlyExpected
	if expected == 0 {
		expected = e.Config.ExpectedDailyCycles
	}

	checker := &transitmon.NightlyChecker{
		Store:    e.Store,
		Sender:   e.Sender,
		Location: e.Config.Location,
		Logger:   e.Logger,
	}
	return checker.Check(cmd.Context(), expected)
}
