package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fleet-trajectory-analytics/internal/analytics"
	"fleet-trajectory-analytics/internal/api"
	"fleet-trajectory-analytics/internal/config"
	"fleet-trajectory-analytics/internal/db"
	"fleet-trajectory-analytics/internal/fleet"
	"fleet-trajectory-analytics/internal/geocode"
	"fleet-trajectory-analytics/internal/models"
	"fleet-trajectory-analytics/internal/parser"
	"fleet-trajectory-analytics/internal/report"

	"github.com/spf13/cobra"
)

var (
	dbPath   string
	cfg      *config.Config
	database *db.Database
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fleet-analytics",
		Short: "Fleet Trajectory Analytics - trips, stops, mileage and driving behavior",
		Long: `A CLI tool for ingesting vehicle GPS history and deriving trips, stops,
mileage reports, driving incidents and speed-limit infractions, with SQLite
storage and REST API access.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			if !cmd.Flags().Changed("db") {
				dbPath = cfg.DBPath
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "fleet.db", "Path to SQLite database (default from FLEET_DB_PATH)")

	// Add commands
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(vehicleCmd())
	rootCmd.AddCommand(tripsCmd())
	rootCmd.AddCommand(stopsCmd())
	rootCmd.AddCommand(mileageCmd())
	rootCmd.AddCommand(incidentsCmd())
	rootCmd.AddCommand(infractionsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initDB initializes database connection
func initDB() error {
	var err error
	database, err = db.New(dbPath)
	return err
}

// newResolver builds the address resolver described by the configuration
func newResolver() geocode.Resolver {
	if cfg.GeocoderURL == "" {
		return geocode.CoordinateResolver{}
	}
	return geocode.NewCache(
		geocode.NewHTTPResolver(cfg.GeocoderURL, cfg.GeocoderTimeout()),
		cfg.GeocoderCacheSize,
		24*time.Hour,
	)
}

// newService builds the report service on top of the open database
func newService() (*report.Service, error) {
	ac, err := cfg.Analytics()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return report.NewService(database, database, report.Options{
		Config:    ac,
		Workers:   cfg.FanOutWorkers,
		MaxPoints: cfg.MaxPoints,
		Location:  loc,
		Resolver:  newResolver(),
	})
}

// withService opens the database and service for a single command
func withService(fn func(ctx context.Context, svc *report.Service) error) error {
	if err := initDB(); err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	defer database.Close()

	svc, err := newService()
	if err != nil {
		return err
	}
	return fn(context.Background(), svc)
}

// parseWindow reads --from/--to as RFC3339 or YYYY-MM-DD. A bare date for
// --to covers the whole day. An empty --from means the start of today.
func parseWindow(from, to string, loc *time.Location) (time.Time, time.Time, error) {
	parse := func(v string, endOfDay bool) (time.Time, error) {
		if d, err := time.ParseInLocation("2006-01-02", v, loc); err == nil {
			if endOfDay {
				return d.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
			}
			return d, nil
		}
		return models.ParseTimestamp(v)
	}

	now := time.Now().In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	end := now

	var err error
	if from != "" {
		if start, err = parse(from, false); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if to != "" {
		if end, err = parse(to, true); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
	}
	return start, end, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// serverCmd starts the REST API server
func serverCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			svc, err := newService()
			if err != nil {
				return err
			}

			if port == "" {
				port = cfg.HTTPPort
			}
			server := api.NewServer(database, svc)
			addr := ":" + port

			fmt.Printf("🚀 Fleet Trajectory Analytics API Server\n")
			fmt.Printf("   Listening on http://localhost%s\n", addr)
			fmt.Printf("   Database: %s\n", dbPath)
			fmt.Printf("   Timezone: %s\n\n", svc.Location())
			fmt.Println("Available endpoints:")
			fmt.Println("  GET  /health")
			fmt.Println("  GET  /api/v1/vehicles")
			fmt.Println("  POST /api/v1/vehicles")
			fmt.Println("  GET  /api/v1/vehicles/{id}")
			fmt.Println("  POST /api/v1/telemetry")
			fmt.Println("  POST /api/v1/telemetry/batch")
			fmt.Println("  GET  /api/v1/vehicles/{id}/trips")
			fmt.Println("  GET  /api/v1/vehicles/{id}/stops")
			fmt.Println("  GET  /api/v1/vehicles/{id}/mileage")
			fmt.Println("  GET  /api/v1/vehicles/{id}/incidents")
			fmt.Println("  GET  /api/v1/vehicles/{id}/infractions")
			fmt.Println("  GET  /api/v1/fleet/incidents")
			fmt.Println("  GET  /api/v1/fleet/infractions")
			fmt.Println("  GET  /api/v1/stats")
			fmt.Println()

			srv := &http.Server{
				Addr:              addr,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				fmt.Println("\nShutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Server port (default from HTTP_PORT)")
	return cmd
}

// ingestCmd ingests position history from files
func ingestCmd() *cobra.Command {
	var format string
	var validate bool

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest position history from files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			p := parser.NewParser(format)
			totalRecords := 0
			totalErrors := 0

			for _, file := range args {
				fmt.Printf("Processing %s...\n", file)
				start := time.Now()

				records, err := p.ParseFile(file)
				if err != nil {
					fmt.Printf("  Error: %v\n", err)
					totalErrors++
					continue
				}

				// Validate if requested
				if validate {
					var valid []models.PositionSample
					for i := range records {
						if errs := parser.ValidateSample(&records[i]); len(errs) == 0 {
							valid = append(valid, records[i])
						} else {
							totalErrors++
						}
					}
					records = valid
				}

				count, err := database.InsertSamples(ctx, records)
				if err != nil {
					fmt.Printf("  Database error: %v\n", err)
					continue
				}

				elapsed := time.Since(start)
				fmt.Printf("  ✓ Inserted %d samples in %v (%.0f samples/sec)\n",
					count, elapsed, float64(count)/elapsed.Seconds())
				totalRecords += int(count)
			}

			fmt.Printf("\nTotal: %d samples ingested", totalRecords)
			if totalErrors > 0 {
				fmt.Printf(", %d errors", totalErrors)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "File format ("+strings.Join(parser.Formats, ", ")+")")
	cmd.Flags().BoolVarP(&validate, "validate", "v", true, "Validate samples before inserting")
	return cmd
}

// generateCmd generates synthetic drive/park history
func generateCmd() *cobra.Command {
	var hours int
	var vehicleCount int
	var seed int64
	var output string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate synthetic position history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			ctx := context.Background()
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			rng := rand.New(rand.NewSource(seed))

			vehicleTypes := []string{"Truck", "Van", "Sedan", "SUV"}
			end := time.Now().UTC().Truncate(time.Minute)
			start := end.Add(-time.Duration(hours) * time.Hour)

			var records []models.PositionSample
			for i := 1; i <= vehicleCount; i++ {
				v := models.Vehicle{
					ID:           fmt.Sprintf("VEH-%03d", i),
					Name:         fmt.Sprintf("Vehicle %d", i),
					LicensePlate: fmt.Sprintf("FL-%04d", rng.Intn(10000)),
					VehicleType:  vehicleTypes[rng.Intn(len(vehicleTypes))],
				}
				if err := database.InsertVehicle(ctx, &v); err != nil {
					return fmt.Errorf("error creating vehicle %s: %w", v.ID, err)
				}

				records = append(records, simulate(simulation{
					VehicleID:     v.ID,
					Start:         start.Add(time.Duration(rng.Intn(60)) * time.Minute),
					End:           end,
					Latitude:      28.5383 + (rng.Float64()-0.5)*0.1, // Orlando area
					Longitude:     -81.3792 + (rng.Float64()-0.5)*0.1,
					DriveInterval: 10 * time.Second,
					ParkInterval:  time.Minute,
				}, rng)...)
			}

			fmt.Printf("Created %d vehicles\n", vehicleCount)

			// Insert in batches of 1000
			begin := time.Now()
			batchSize := 1000
			inserted := 0

			for i := 0; i < len(records); i += batchSize {
				end := i + batchSize
				if end > len(records) {
					end = len(records)
				}
				count, err := database.InsertSamples(ctx, records[i:end])
				if err != nil {
					return fmt.Errorf("insert error: %w", err)
				}
				inserted += int(count)
				fmt.Printf("\rInserted %d/%d samples...", inserted, len(records))
			}

			elapsed := time.Since(begin)
			fmt.Printf("\n✓ Generated %d samples in %v (%.0f samples/sec, seed %d)\n",
				inserted, elapsed, float64(inserted)/elapsed.Seconds(), seed)

			// Export to file if requested
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("error creating output file: %w", err)
				}
				defer file.Close()

				enc := json.NewEncoder(file)
				enc.SetIndent("", "  ")
				if err := enc.Encode(records); err != nil {
					return fmt.Errorf("error writing output file: %w", err)
				}
				fmt.Printf("Data exported to %s\n", output)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 24, "Hours of history per vehicle")
	cmd.Flags().IntVarP(&vehicleCount, "vehicles", "n", 10, "Number of vehicles to create")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (0 picks one)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Export generated data to JSON file")
	return cmd
}

// statsCmd shows database statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			stats, err := database.GetStats(context.Background())
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println("📊 Fleet Trajectory Analytics Statistics")
			fmt.Println("========================================")
			fmt.Printf("  Total Vehicles:     %v\n", stats["total_vehicles"])
			fmt.Printf("  Position Samples:   %v\n", stats["total_position_samples"])
			fmt.Printf("  First Sample:       %v\n", stats["first_sample"])
			fmt.Printf("  Last Sample:        %v\n", stats["last_sample"])
			fmt.Printf("  Database:           %s\n", dbPath)

			return nil
		},
	}
}

// vehicleCmd manages vehicles
func vehicleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vehicle",
		Short: "Vehicle management commands",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all vehicles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			vehicles, err := database.ListVehicles(context.Background())
			if err != nil {
				return fmt.Errorf("error listing vehicles: %w", err)
			}

			if len(vehicles) == 0 {
				fmt.Println("No vehicles found. Use 'fleet-analytics generate' to create sample data.")
				return nil
			}

			fmt.Printf("%-10s %-20s %-12s %-10s\n", "ID", "Name", "Plate", "Type")
			fmt.Println(strings.Repeat("-", 55))
			for _, v := range vehicles {
				fmt.Printf("%-10s %-20s %-12s %-10s\n", v.ID, v.Name, v.LicensePlate, v.VehicleType)
			}

			return nil
		},
	}

	cmd.AddCommand(listCmd)
	return cmd
}

// tripsCmd lists the trips of one vehicle
func tripsCmd() *cobra.Command {
	var from, to, outputFormat string

	cmd := &cobra.Command{
		Use:   "trips [vehicle_id]",
		Short: "List trips of a vehicle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *report.Service) error {
				start, end, err := parseWindow(from, to, svc.Location())
				if err != nil {
					return err
				}

				began := time.Now()
				rep, err := svc.Trips(ctx, report.Query{VehicleID: args[0], From: start, To: end})
				if err != nil {
					return err
				}
				if outputFormat == "json" {
					return printJSON(rep)
				}

				fmt.Printf("🚗 Trips for %s (query: %v)\n\n", args[0], time.Since(began))
				if !rep.HasData {
					fmt.Println(rep.Message)
					return nil
				}
				loc := svc.Location()
				fmt.Printf("%-3s %-8s %-8s %9s %9s %9s %9s  %s\n", "#", "Start", "End", "Km", "Minutes", "Avg km/h", "Max km/h", "From -> To")
				fmt.Println(strings.Repeat("-", 100))
				for i, t := range rep.Trips {
					fmt.Printf("%-3d %-8s %-8s %9.2f %9.1f %9.1f %9.1f  %s -> %s\n",
						i+1,
						t.StartSample.Timestamp.In(loc).Format("15:04:05"),
						t.EndSample.Timestamp.In(loc).Format("15:04:05"),
						t.DistanceKm, t.DurationSeconds/60, t.AvgSpeedKph, t.MaxSpeedKph,
						t.StartAddress, t.EndAddress)
				}
				fmt.Printf("\nTotal: %d trips, %.2f km, %.0f minutes driving\n",
					rep.TripCount, rep.TotalDistanceKm, rep.TotalDurationSeconds/60)
				return nil
			})
		},
	}

	addWindowFlags(cmd, &from, &to, &outputFormat)
	return cmd
}

// stopsCmd lists the stationary periods of one vehicle
func stopsCmd() *cobra.Command {
	var from, to, outputFormat string

	cmd := &cobra.Command{
		Use:   "stops [vehicle_id]",
		Short: "List stops of a vehicle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *report.Service) error {
				start, end, err := parseWindow(from, to, svc.Location())
				if err != nil {
					return err
				}

				rep, err := svc.Stops(ctx, report.Query{VehicleID: args[0], From: start, To: end})
				if err != nil {
					return err
				}
				if outputFormat == "json" {
					return printJSON(rep)
				}

				fmt.Printf("🅿️  Stops for %s\n\n", args[0])
				if !rep.HasData {
					fmt.Println(rep.Message)
					return nil
				}
				loc := svc.Location()
				fmt.Printf("%-3s %-8s %-8s %9s  %s\n", "#", "Start", "End", "Minutes", "Location")
				fmt.Println(strings.Repeat("-", 70))
				for i, s := range rep.Stops {
					fmt.Printf("%-3d %-8s %-8s %9.1f  %s\n",
						i+1,
						s.StartSample.Timestamp.In(loc).Format("15:04:05"),
						s.EndSample.Timestamp.In(loc).Format("15:04:05"),
						s.DurationSeconds/60, s.Address)
				}
				fmt.Printf("\nTotal: %d stops, %.0f minutes stationary\n", rep.StopCount, rep.TotalStopSeconds/60)
				return nil
			})
		},
	}

	addWindowFlags(cmd, &from, &to, &outputFormat)
	return cmd
}

// mileageCmd aggregates trip distance into hour, day or month buckets
func mileageCmd() *cobra.Command {
	var from, to, period, outputFormat string

	cmd := &cobra.Command{
		Use:   "mileage [vehicle_id]",
		Short: "Show mileage per hour, day or month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *report.Service) error {
				start, end, err := parseWindow(from, to, svc.Location())
				if err != nil {
					return err
				}

				rep, err := svc.Mileage(ctx, args[0], analytics.MileageRequest{
					Period:   models.PeriodType(period),
					From:     start,
					To:       end,
					Location: svc.Location(),
				})
				if err != nil {
					return err
				}
				if outputFormat == "json" {
					return printJSON(rep)
				}

				fmt.Printf("📈 Mileage per %s for %s\n\n", period, args[0])
				if !rep.HasData {
					fmt.Println(rep.Message)
					return nil
				}
				fmt.Printf("%-20s %10s %6s %10s %9s %9s\n", "Period", "Km", "Trips", "Minutes", "Avg km/h", "Max km/h")
				fmt.Println(strings.Repeat("-", 70))
				for _, b := range rep.Buckets {
					fmt.Printf("%-20s %10.2f %6d %10.1f %9.1f %9.1f\n",
						b.Label, b.DistanceKm, b.TripCount, b.DrivingMinutes, b.AvgSpeedKph, b.MaxSpeedKph)
				}
				fmt.Println()
				fmt.Printf("  Total:    %.2f km\n", rep.TotalDistanceKm)
				fmt.Printf("  Average:  %.2f km\n", rep.AverageDistanceKm)
				fmt.Printf("  Max:      %.2f km\n", rep.MaxDistanceKm)
				fmt.Printf("  Min:      %.2f km\n", rep.MinDistanceKm)
				if c := rep.Comparison; c != nil {
					fmt.Printf("  Previous: %.2f km (%+.2f km, %+.1f%%, %s)\n",
						c.PreviousTotalKm, c.DifferenceKm, c.PercentageChange, c.Trend)
				}
				return nil
			})
		},
	}

	addWindowFlags(cmd, &from, &to, &outputFormat)
	cmd.Flags().StringVarP(&period, "period", "P", "day", "Bucket period (hour, day, month)")
	return cmd
}

// incidentsCmd reports driving incidents for one vehicle or the fleet
func incidentsCmd() *cobra.Command {
	var from, to, types, outputFormat string
	var wholeFleet bool

	cmd := &cobra.Command{
		Use:   "incidents [vehicle_id...]",
		Short: "Detect harsh driving, sharp steering, overspeed and high RPM",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !wholeFleet && len(args) != 1 {
				return fmt.Errorf("expected one vehicle_id, or --fleet")
			}
			return withService(func(ctx context.Context, svc *report.Service) error {
				start, end, err := parseWindow(from, to, svc.Location())
				if err != nil {
					return err
				}

				var override *analytics.IncidentTypes
				if cmd.Flags().Changed("types") {
					t, err := analytics.ParseIncidentTypes(types)
					if err != nil {
						return err
					}
					override = &t
				}

				var rep *report.IncidentReport
				if wholeFleet {
					rep, err = svc.FleetIncidents(ctx, report.FleetQuery{VehicleIDs: args, From: start, To: end, Types: override})
				} else {
					rep, err = svc.Incidents(ctx, report.Query{VehicleID: args[0], From: start, To: end, Types: override})
				}
				if err != nil {
					return err
				}
				if outputFormat == "json" {
					return printJSON(rep)
				}

				printFailures(rep.Failures)
				if !rep.HasData {
					fmt.Println(rep.Message)
					return nil
				}
				loc := svc.Location()
				fmt.Printf("%-19s %-10s %-18s %-8s %10s  %s\n", "Time", "Vehicle", "Type", "Severity", "Value", "Position")
				fmt.Println(strings.Repeat("-", 95))
				for _, inc := range rep.Incidents {
					fmt.Printf("%-19s %-10s %-18s %-8s %10.1f  %.6f,%.6f\n",
						inc.Timestamp.In(loc).Format("2006-01-02 15:04:05"),
						inc.VehicleID, inc.Type, inc.Severity, inc.Value, inc.Latitude, inc.Longitude)
				}
				fmt.Println()
				for _, kind := range models.IncidentTypeList {
					if n := rep.Counts[kind]; n > 0 {
						fmt.Printf("  %-18s %d\n", kind, n)
					}
				}
				return nil
			})
		},
	}

	addWindowFlags(cmd, &from, &to, &outputFormat)
	cmd.Flags().StringVarP(&types, "types", "t", "all", "Comma-separated incident types")
	cmd.Flags().BoolVar(&wholeFleet, "fleet", false, "Report across vehicles (all when none given)")
	return cmd
}

// infractionsCmd scans one vehicle or the fleet against a speed limit
func infractionsCmd() *cobra.Command {
	var from, to, outputFormat string
	var limit float64
	var wholeFleet bool

	cmd := &cobra.Command{
		Use:   "infractions [vehicle_id...]",
		Short: "List speed-limit infractions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !wholeFleet && len(args) != 1 {
				return fmt.Errorf("expected one vehicle_id, or --fleet")
			}
			return withService(func(ctx context.Context, svc *report.Service) error {
				start, end, err := parseWindow(from, to, svc.Location())
				if err != nil {
					return err
				}

				var override *float64
				if cmd.Flags().Changed("limit") {
					override = &limit
				}

				var rep *report.InfractionReport
				if wholeFleet {
					rep, err = svc.FleetInfractions(ctx, report.FleetQuery{VehicleIDs: args, From: start, To: end, LimitKph: override})
				} else {
					rep, err = svc.Infractions(ctx, report.Query{VehicleID: args[0], From: start, To: end, LimitKph: override})
				}
				if err != nil {
					return err
				}
				if outputFormat == "json" {
					return printJSON(rep)
				}

				printFailures(rep.Failures)
				if !rep.HasData {
					fmt.Println(rep.Message)
					return nil
				}
				loc := svc.Location()
				fmt.Printf("Speed limit: %.0f km/h\n\n", rep.LimitKph)
				fmt.Printf("%-19s %-10s %8s %8s %7s  %s\n", "Time", "Vehicle", "Speed", "Excess", "Severe", "Position")
				fmt.Println(strings.Repeat("-", 85))
				for _, inf := range rep.Infractions {
					severe := ""
					if inf.IsSevere {
						severe = "⚠️"
					}
					fmt.Printf("%-19s %-10s %8.1f %8.1f %7s  %.6f,%.6f\n",
						inf.Timestamp.In(loc).Format("2006-01-02 15:04:05"),
						inf.VehicleID, inf.SpeedKph, inf.ExcessKph, severe, inf.Latitude, inf.Longitude)
				}
				fmt.Printf("\nTotal: %d infractions, %d severe\n", rep.Total, rep.SevereCount)
				return nil
			})
		},
	}

	addWindowFlags(cmd, &from, &to, &outputFormat)
	cmd.Flags().Float64VarP(&limit, "limit", "l", analytics.DefaultSpeedLimitKph, "Speed limit in km/h (default from SPEED_LIMIT_KPH)")
	cmd.Flags().BoolVar(&wholeFleet, "fleet", false, "Report across vehicles (all when none given)")
	return cmd
}

func addWindowFlags(cmd *cobra.Command, from, to, outputFormat *string) {
	cmd.Flags().StringVarP(from, "from", "s", "", "Start (RFC3339 or YYYY-MM-DD, default start of today)")
	cmd.Flags().StringVarP(to, "to", "e", "", "End (RFC3339 or YYYY-MM-DD, default now)")
	cmd.Flags().StringVarP(outputFormat, "output", "o", "table", "Output format (table, json)")
}

func printFailures(failures []fleet.Failure) {
	for _, f := range failures {
		fmt.Printf("⚠️  %s: %s\n", f.VehicleID, f.Error)
	}
	if len(failures) > 0 {
		fmt.Println()
	}
}
