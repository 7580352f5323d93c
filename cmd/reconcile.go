package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobmate/matching-service/internal/matching"
	"jobmate/matching-service/internal/scheduler"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile one claimant, or every claimant with criteria, and print the report",
	RunE:  reconcile,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete a claimant's untouched matches scoring below a value",
	RunE:  prune,
}

func init() {
	rootCmd.AddCommand(reconcileCmd, pruneCmd)

	reconcileCmd.Flags().Int64P("claimant", "c", 0, "claimant id")
	reconcileCmd.Flags().Int64("criteria", 0, "criteria set id (default: the most recent)")
	reconcileCmd.Flags().Int64Slice("posting", nil, "restrict to these posting ids")
	reconcileCmd.Flags().Float64("threshold", 0, "override the configured threshold")
	reconcileCmd.Flags().Bool("all", false, "reconcile every claimant with criteria")

	pruneCmd.Flags().Int64P("claimant", "c", 0, "claimant id")
	pruneCmd.Flags().Float64("below", 0, "delete untouched matches scoring below this value")
	_ = pruneCmd.MarkFlagRequired("claimant")
	_ = pruneCmd.MarkFlagRequired("below")
}

func reconcile(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")

	if all, _ := cmd.Flags().GetBool("all"); all {
		s := scheduler.New(d.store, d.reconciler, "", cfg.Scheduler.Parallelism, log)
		return out.Encode(s.RunCycle(ctx))
	}

	var req matching.Request
	req.ClaimantID, _ = cmd.Flags().GetInt64("claimant")
	req.CriteriaID, _ = cmd.Flags().GetInt64("criteria")
	req.PostingIDs, _ = cmd.Flags().GetInt64Slice("posting")
	if cmd.Flags().Changed("threshold") {
		t, _ := cmd.Flags().GetFloat64("threshold")
		req.Threshold = &t
	}
	if req.ClaimantID == 0 {
		return errors.New("either --claimant or --all is required")
	}

	rep, err := d.reconciler.Run(ctx, req)
	if rep != nil {
		if encErr := out.Encode(rep); encErr != nil {
			log.Warn("print report", zap.Error(encErr))
		}
	}
	return err
}

func prune(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	claimantID, _ := cmd.Flags().GetInt64("claimant")
	below, _ := cmd.Flags().GetFloat64("below")
	n, err := d.reconciler.Prune(ctx, claimantID, below)
	if err != nil {
		return err
	}
	log.Info("prune complete", zap.Int64("claimant_id", claimantID), zap.Int64("deleted", n))
	return nil
}
