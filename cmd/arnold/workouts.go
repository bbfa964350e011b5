package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

var workoutsCmd = &cobra.Command{
	Use:   "workouts",
	Short: "Log and browse workouts without the voice agent",
	// Replaces the root hook; loadConfig applies --verbose itself.
	PersistentPreRun: func(cmd *cobra.Command, _ []string) { bindStorageFlags(cmd) },
}

var (
	logDate   string
	logWeight float64
	listLimit int
	queryDate string
)

var workoutsLogCmd = &cobra.Command{
	Use:   "log <exercise> <reps>",
	Short: "Log a set",
	Example: `  arnold workouts log "bench press" 8 --weight 185
  arnold workouts log push-ups 20 --date 2025-01-15`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reps, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("reps must be an integer: %q", args[1])
		}
		date := workout.Today()
		if logDate != "" {
			if date, err = workout.ParseDate(logDate); err != nil {
				return err
			}
		}
		return withWorkouts(cmd.Context(), func(svc *workout.Service) error {
			w, err := svc.Create(cmd.Context(), workout.Input{
				WorkoutDate: date,
				Exercise:    args[0],
				Reps:        reps,
				WeightLbs:   logWeight,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged %d reps of %s at %g lbs (#%d, %s)\n",
				w.Reps, w.Exercise, w.WeightLbs, w.ID, w.WorkoutDate)
			return nil
		})
	},
}

var workoutsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recently logged sets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkouts(cmd.Context(), func(svc *workout.Service) error {
			list, err := svc.Recent(cmd.Context(), listLimit)
			if err != nil {
				return err
			}
			writeWorkouts(cmd.OutOrStdout(), "Recent workouts", list, true)
			return nil
		})
	},
}

var workoutsHistoryCmd = &cobra.Command{
	Use:   "history <exercise>",
	Short: "Show the history of one exercise",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var date *workout.Date
		if queryDate != "" {
			d, err := workout.ParseDate(queryDate)
			if err != nil {
				return err
			}
			date = &d
		}
		return withWorkouts(cmd.Context(), func(svc *workout.Service) error {
			list, err := svc.ByExercise(cmd.Context(), args[0], date)
			if err != nil {
				return err
			}
			writeWorkouts(cmd.OutOrStdout(), args[0]+" history", list, false)
			return nil
		})
	},
}

func init() {
	workoutsCmd.PersistentFlags().String("storage-driver", "", "Workout storage: sqlite or postgres")
	workoutsCmd.PersistentFlags().String("storage-dsn", "", "Workout storage DSN or SQLite path")

	workoutsLogCmd.Flags().Float64VarP(&logWeight, "weight", "w", 0, "Weight in lbs (0 for bodyweight)")
	workoutsLogCmd.Flags().StringVarP(&logDate, "date", "d", "", "Workout date YYYY-MM-DD (default today)")
	workoutsRecentCmd.Flags().IntVarP(&listLimit, "limit", "n", workout.DefaultRecentLimit, "Number of sets to show (1-100)")
	workoutsHistoryCmd.Flags().StringVarP(&queryDate, "date", "d", "", "Only show this date (YYYY-MM-DD)")

	workoutsCmd.AddCommand(workoutsLogCmd, workoutsRecentCmd, workoutsHistoryCmd)
	rootCmd.AddCommand(workoutsCmd)
}

// withWorkouts opens the configured storage, applying migrations so a fresh
// SQLite file works, and runs fn against a service over it.
func withWorkouts(ctx context.Context, fn func(*workout.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := openRepository(ctx, cfg.Storage, true)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()
	return fn(workout.NewService(repo))
}

func writeWorkouts(w io.Writer, title string, list []workout.Workout, withExercise bool) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No workouts found.")
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, wo := range list {
		if withExercise {
			fmt.Fprintf(w, "  - %s: %d reps @ %g lbs (%s)\n", wo.Exercise, wo.Reps, wo.WeightLbs, wo.WorkoutDate)
			continue
		}
		fmt.Fprintf(w, "  - %d reps @ %g lbs (%s)\n", wo.Reps, wo.WeightLbs, wo.WorkoutDate)
	}
}
