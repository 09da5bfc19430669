package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"fumapis/api"
	"fumapis/models"
	"fumapis/server"
	"fumapis/services"
	"fumapis/storage"
)

const defaultRetryDelay = 2 * time.Second

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := newFlagSet("login")
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password (defaults to $FUMAPIS_PASSWORD, then a prompt)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("login: -u is required")
	}
	if *password == "" {
		*password = os.Getenv("FUMAPIS_PASSWORD")
	}
	if *password == "" {
		p, err := readPassword(os.Stdin, os.Stderr)
		if err != nil {
			return fmt.Errorf("login: read password: %w", err)
		}
		*password = p
	}

	client := api.New(a.cfg, nil, a.logger)
	s, err := client.Login(ctx, *username, *password)
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Save(ctx, s); err != nil {
		return err
	}

	fmt.Printf("\n  Logged in as %s (%s)\n\n", s.Name, s.Username)
	return nil
}

// readPassword prompts on out and reads one line from in. A terminal has its
// echo turned off while the password is typed.
func readPassword(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Password: ")
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) logout(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Clear(ctx); err != nil {
		return err
	}
	a.logger.Info("Session cleared")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := store.Load(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n  %s (%s), logged in %s\n\n", s.Name, s.Username, s.IssuedAt.Local().Format("02/01/2006 15:04"))
	return nil
}

// report fetches the full citizen list and aggregates it.
func (a *app) report(ctx context.Context) (*models.DashboardReport, *services.Aggregator, error) {
	client, err := a.authedClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	records, err := client.ListCitizens(ctx)
	if err != nil {
		return nil, nil, err
	}
	agg := services.NewAggregator(a.logger)
	report, err := agg.Generate(records)
	if err != nil {
		return nil, nil, err
	}
	return report, agg, nil
}

func (a *app) dashboard(ctx context.Context, args []string) error {
	fs := newFlagSet("dashboard")
	snapshot := fs.Bool("snapshot", false, "store the aggregate counts in PostgreSQL")
	export := fs.Bool("export", false, "write neighborhood and unmapped CSV files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, agg, err := a.report(ctx)
	if err != nil {
		return err
	}
	agg.Print(report)

	if *export {
		if err := a.exportCSV(report, true, true); err != nil {
			return err
		}
	}

	if *snapshot {
		pg, err := storage.NewPostgresWriter(ctx, a.cfg.DSN(), a.retry())
		if err != nil {
			a.logger.Error("Make sure PostgreSQL is running: docker compose up -d")
			return err
		}
		defer pg.Close()

		id, err := pg.SaveSnapshot(ctx, report)
		if err != nil {
			return err
		}
		a.logger.Info("Snapshot %d stored in PostgreSQL (table: dashboard_snapshots)", id)
	}
	return nil
}

func (a *app) unmapped(ctx context.Context, args []string) error {
	fs := newFlagSet("unmapped")
	export := fs.Bool("export", false, "write the list to CSV")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, agg, err := a.report(ctx)
	if err != nil {
		return err
	}
	agg.PrintUnmapped(report)

	if *export {
		return a.exportCSV(report, false, true)
	}
	return nil
}

func (a *app) exportCSV(report *models.DashboardReport, neighborhoods, unmapped bool) error {
	w, err := storage.NewCSVWriter(a.cfg.CSVOutputDir)
	if err != nil {
		return err
	}
	var exporter storage.ReportExporter = w

	if neighborhoods {
		path, err := exporter.WriteNeighborhoods(report)
		if err != nil {
			return err
		}
		a.logger.Info("Neighborhood counts saved to %s", path)
	}
	if unmapped {
		path, err := exporter.WriteUnmapped(report)
		if err != nil {
			return err
		}
		a.logger.Info("Unmapped citizens saved to %s", path)
	}
	return nil
}

func parseOptionalBool(name, v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	switch strings.ToLower(v) {
	case "sim", "s":
		v = "true"
	case "nao", "não", "n":
		v = "false"
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("-%s: expected true/false, got %q", name, v)
	}
	return &b, nil
}

func (a *app) search(ctx context.Context, args []string) error {
	fs := newFlagSet("search")
	cpf := fs.String("cpf", "", "CPF")
	bairro := fs.String("bairro", "", "neighborhood")
	zona := fs.String("zona", "", "electoral zone")
	elegivel := fs.String("elegivel", "", "eligible (true/false)")
	votou := fs.String("votou", "", "voted (true/false)")
	skip := fs.Int("skip", 0, "records to skip")
	limit := fs.Int("limit", a.cfg.PageSize, "page size")
	all := fs.Bool("all", false, "fetch every page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := models.SearchFilter{
		Skip:         *skip,
		Limit:        *limit,
		NationalID:   *cpf,
		Neighborhood: *bairro,
		Zone:         *zona,
	}
	if filter.NationalID != "" && !services.ValidateCPF(filter.NationalID) {
		return fmt.Errorf("search: invalid CPF %q", filter.NationalID)
	}
	if filter.Neighborhood != "" {
		if canonical, ok := a.catalog.Neighborhood(filter.Neighborhood); ok {
			filter.Neighborhood = canonical
		}
	}
	if filter.Zone != "" {
		if canonical, ok := a.catalog.Zone(filter.Zone); ok {
			filter.Zone = canonical
		}
	}
	var err error
	if filter.Eligible, err = parseOptionalBool("elegivel", *elegivel); err != nil {
		return err
	}
	if filter.Voted, err = parseOptionalBool("votou", *votou); err != nil {
		return err
	}

	client, err := a.authedClient(ctx)
	if err != nil {
		return err
	}

	var (
		records []*models.CitizenRecord
		total   int
	)
	if *all {
		records, err = client.FetchAll(ctx, filter)
		total = len(records)
	} else {
		var page *models.CitizenPage
		page, err = client.SearchCitizens(ctx, filter)
		if page != nil {
			records, total = page.Items, page.Total
		}
	}
	if err != nil {
		return err
	}

	printCitizens(records, total)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "sim"
	}
	return "não"
}

func printCitizens(records []*models.CitizenRecord, total int) {
	fmt.Println()
	fmt.Printf("  %-6s %-32s %-15s %-16s %-12s %-9s %-5s\n", "ID", "Nome", "CPF", "Bairro", "Zona", "Status", "Votou")
	fmt.Println("  " + strings.Repeat("─", 102))
	for _, r := range records {
		fmt.Printf("  %-6s %-32s %-15s %-16s %-12s %-9s %-5s\n",
			r.ID, clip(r.FullName, 32), services.FormatCPF(r.NationalID),
			clip(r.Neighborhood, 16), clip(r.Zone, 12), r.RegistrationStatus, yesNo(r.HasVoted))
	}
	fmt.Printf("\n  Showing %d of %d citizens\n\n", len(records), total)
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := newFlagSet("register")
	in := &models.CitizenInput{}
	fs.StringVar(&in.FullName, "nome", "", "full name")
	fs.StringVar(&in.CPF, "cpf", "", "CPF")
	fs.StringVar(&in.SpouseName, "conjuge", "", "spouse name")
	fs.StringVar(&in.SpouseCPF, "cpf-conjuge", "", "spouse CPF")
	fs.StringVar(&in.Zone, "zona", "", "electoral zone")
	fs.StringVar(&in.Neighborhood, "bairro", "", "neighborhood")
	fs.StringVar(&in.Phone, "telefone", "", "phone")
	fs.StringVar(&in.Email, "email", "", "email")
	fs.StringVar(&in.CEP, "cep", "", "postal code, used to fill the address")
	fs.StringVar(&in.Number, "numero", "", "street number")
	fs.StringVar(&in.Address, "endereco", "", "full address, overrides the CEP lookup")
	fs.StringVar(&in.SocialProgram, "programa", "", "social program")
	if err := fs.Parse(args); err != nil {
		return err
	}

	registrar := services.NewRegistrar(a.catalog, a.logger)
	if err := registrar.Validate(in); err != nil {
		return err
	}

	client, err := a.authedClient(ctx)
	if err != nil {
		return err
	}

	if in.Address == "" && in.CEP != "" {
		addr, err := client.LookupCEP(ctx, in.CEP)
		switch {
		case err == nil:
			in.Address = services.ComposeAddress(addr, in.Number)
			if in.Neighborhood == "" {
				if canonical, ok := a.catalog.Neighborhood(addr.Neighborhood); ok {
					in.Neighborhood = canonical
				}
			}
			a.logger.Info("Address from CEP: %s", in.Address)
		case errors.Is(err, api.ErrNotFound):
			a.logger.Warn("CEP %s not found; registering without address", services.FormatCEP(in.CEP))
		default:
			a.logger.Warn("CEP lookup failed: %v", err)
		}
	}

	rec, err := client.CreateCitizen(ctx, registrar.Payload(in))
	if err != nil {
		return err
	}
	fmt.Printf("\n  Registered %s (id %s, CPF %s)\n\n", rec.FullName, rec.ID, services.FormatCPF(rec.NationalID))
	return nil
}

// fieldList collects repeated -set key=value flags.
type fieldList map[string]string

func (f fieldList) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+f[k])
	}
	return strings.Join(parts, ",")
}

func (f fieldList) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("expected field=value, got %q", v)
	}
	f[strings.TrimSpace(k)] = val
	return nil
}

// updateFields converts raw -set values into the API's types, checking the
// ones the registry would otherwise reject.
func (a *app) updateFields(raw fieldList) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case "cpf", "cpf_conjuge":
			if v == "" {
				out[k] = nil
				continue
			}
			if !services.ValidateCPF(v) {
				return nil, &services.ValidationError{Field: k, Message: "invalid CPF"}
			}
			out[k] = services.DigitsOnly(v)
		case "bairro":
			canonical, ok := a.catalog.Neighborhood(v)
			if !ok {
				return nil, &services.ValidationError{Field: k, Message: fmt.Sprintf("unknown neighborhood %q", v)}
			}
			out[k] = canonical
		case "zona":
			canonical, ok := a.catalog.Zone(v)
			if !ok {
				return nil, &services.ValidationError{Field: k, Message: fmt.Sprintf("unknown zone %q", v)}
			}
			out[k] = canonical
		case "elegivel", "votou":
			b, err := parseOptionalBool(k, v)
			if err != nil || b == nil {
				return nil, &services.ValidationError{Field: k, Message: "expected true or false"}
			}
			out[k] = *b
		default:
			if v == "" {
				out[k] = nil
			} else {
				out[k] = v
			}
		}
	}
	return out, nil
}

func (a *app) update(ctx context.Context, args []string) error {
	fs := newFlagSet("update")
	id := fs.String("id", "", "citizen id")
	raw := fieldList{}
	fs.Var(raw, "set", "field=value to change (repeatable), e.g. -set bairro=Inamar -set votou=true")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("update: -id is required")
	}

	fields, err := a.updateFields(raw)
	if err != nil {
		return err
	}

	client, err := a.authedClient(ctx)
	if err != nil {
		return err
	}
	rec, err := client.UpdateCitizen(ctx, *id, fields)
	if err != nil {
		return err
	}
	a.logger.Info("Updated citizen %s (%s): %s", rec.ID, rec.FullName, raw.String())
	return nil
}

func (a *app) importFile(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("import: expected exactly one .xlsx file")
	}
	client, err := a.authedClient(ctx)
	if err != nil {
		return err
	}
	res, err := client.UploadSpreadsheet(ctx, args[0])
	if err != nil {
		return err
	}

	msg := res.Message
	if msg == "" {
		msg = res.Detail
	}
	if msg == "" {
		msg = "Import finished"
	}
	fmt.Printf("\n  %s\n", msg)
	if res.Imported > 0 {
		fmt.Printf("  Imported: %d\n", res.Imported)
	}
	for _, e := range res.Errors {
		fmt.Printf("  ! %s\n", e)
	}
	fmt.Println()
	return nil
}

func (a *app) cep(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("cep: expected one postal code")
	}
	addr, err := api.New(a.cfg, nil, a.logger).LookupCEP(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("\n  %s\n  %s\n", addr.CEP, services.ComposeAddress(addr, ""))
	if canonical, ok := a.catalog.Neighborhood(addr.Neighborhood); ok {
		fmt.Printf("  Neighborhood: %s\n", canonical)
	} else if addr.Neighborhood != "" {
		fmt.Printf("  Neighborhood: %s (not in catalog)\n", addr.Neighborhood)
	}
	fmt.Println()
	return nil
}

func (a *app) validateCPF(args []string) error {
	if len(args) == 0 {
		return errors.New("validate-cpf: expected at least one CPF")
	}
	invalid := 0
	for _, cpf := range args {
		status := "valid"
		if !services.ValidateCPF(cpf) {
			status = "INVALID"
			invalid++
		}
		fmt.Printf("  %-16s %s\n", services.FormatCPF(cpf), status)
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d CPFs are invalid", invalid, len(args))
	}
	return nil
}

func (a *app) history(ctx context.Context, args []string) error {
	fs := newFlagSet("history")
	n := fs.Int("n", 10, "snapshots to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pg, err := storage.NewPostgresWriter(ctx, a.cfg.DSN(), a.retry())
	if err != nil {
		return err
	}
	defer pg.Close()

	var reader storage.SnapshotReader = pg
	snaps, err := reader.LatestSnapshots(ctx, *n)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("  %-6s %-17s %8s %8s %8s %8s %8s\n", "ID", "Gerado em", "Total", "Aptos", "Pend.", "Votaram", "S/bairro")
	fmt.Println("  " + strings.Repeat("─", 70))
	for _, s := range snaps {
		fmt.Printf("  %-6d %-17s %8d %8d %8d %8d %8d\n",
			s.ID, s.GeneratedAt.Local().Format("02/01/2006 15:04"),
			s.Summary.Total, s.Summary.Eligible, s.Summary.Pending, s.Summary.Voted, s.Summary.Unmapped)
	}
	fmt.Println()
	return nil
}

func (a *app) serve(ctx context.Context) error {
	client, err := a.authedClient(ctx)
	if err != nil {
		return err
	}

	metrics := server.NewMetrics(true)
	refresher := server.NewRefresher(client, services.NewAggregator(a.logger), metrics, a.logger, a.cfg.RefreshInterval)

	if a.cfg.SnapshotsEnabled {
		pg, err := storage.NewPostgresWriter(ctx, a.cfg.DSN(), a.retry())
		if err != nil {
			return err
		}
		defer pg.Close()
		refresher.WithSnapshots(pg)
		a.logger.Info("Snapshots enabled (every %v)", a.cfg.RefreshInterval)
	}

	return server.New(refresher, metrics, a.logger).Run(ctx, a.cfg.ServeAddr)
}
