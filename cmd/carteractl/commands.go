package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"CarteraDash/api/cartera"
	"CarteraDash/api/cartera/gestion"
	"CarteraDash/internal/config"
	"CarteraDash/internal/jobs"
)

type options struct {
	dataDir  string
	timezone string
	asJSON   bool
	timeout  time.Duration
	analista string
}

func (o *options) paths() config.Paths {
	if o.dataDir != "" {
		return config.NewPaths(o.dataDir)
	}
	return config.PathsFromEnv(config.DefaultDataDir)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "carteractl",
		Short:         "Cartera consolidations and reports from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.dataDir, "data-dir", "d", "", "Data directory (default: DATA_DIR or ./data)")
	root.PersistentFlags().StringVar(&opts.timezone, "timezone", config.DefaultTimeZone, "Time zone of the operation")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print the result as JSON")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Operation timeout")

	root.AddCommand(
		runCmd(opts, jobs.KindMaestro, "Consolidate the snapshots into the master file"),
		runCmd(opts, jobs.KindPagos, "Consolidate the daily payment files"),
		gestionCmd(opts),
	)
	return root
}

func runCmd(opts *options, kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   kind,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			paths := opts.paths()
			if err := paths.EnsureDirs(); err != nil {
				return err
			}
			runner := jobs.NewRunner(paths, config.Location(opts.timezone))
			var out jobs.Outcome
			if kind == jobs.KindMaestro {
				out = runner.RunMaestro(ctx)
			} else {
				out = runner.RunPagos(ctx)
			}

			if opts.asJSON {
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), out.Message)
				if out.OK {
					fmt.Fprintf(cmd.OutOrStdout(), "archivos: %d, registros: %d, duración: %s\n",
						out.Files, out.Records, out.Duration.Round(time.Millisecond))
				}
			}
			if !out.OK {
				return out.Err
			}
			return nil
		},
	}
}

func gestionCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gestion",
		Short: "Print the collector performance report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			paths := opts.paths()
			rep, err := gestion.Calculate(ctx, gestion.Input{
				CarteraPath: paths.MasterCSV(),
				GestionPath: paths.ManagementLog(),
				PagosPath:   paths.PaymentsCSV(),
				Analyst:     opts.analista,
				Now:         time.Now().In(config.Location(opts.timezone)),
			})
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), rep)
			}
			printGestion(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.analista, "analista", "a", config.AllAnalysts, "Analyst to report on")
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printGestion(w io.Writer, rep *gestion.Report) {
	fmt.Fprintf(w, "Analista: %s\n", rep.AnalistaActual)
	fmt.Fprintf(w, "Clientes: %s  Documentos: %s\n",
		cartera.FormatCount(rep.TotalClientes), cartera.FormatCount(rep.TotalDocumentos))
	fmt.Fprintf(w, "Barrido: %s  Contactados: %s  Sin gestión: %s\n",
		cartera.FormatPct(rep.PorcBarrido), cartera.FormatPct(rep.PorcContactado), cartera.FormatPct(rep.PorcSinGestion))
	for _, a := range rep.ResumenAnalistas {
		fmt.Fprintf(w, "  %-24s clientes/día %3d  efectivos %3d  efectividad %s\n",
			a.Usuario, a.ClientesUnicosDia, a.Efectivos, cartera.FormatPct(a.EfecPorc))
	}
	for _, r := range rep.RecaudoStats.Ranking {
		fmt.Fprintf(w, "  recaudo %-16s %s\n", r.Usuario, cartera.FormatMoney(r.TotalRecaudado))
	}
}
