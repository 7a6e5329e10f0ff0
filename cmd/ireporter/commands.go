package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ireporter/internal/client/gate"
	"github.com/noah-isme/ireporter/internal/client/geo"
	"github.com/noah-isme/ireporter/internal/client/reports"
	"github.com/noah-isme/ireporter/internal/lifecycle"
	"github.com/noah-isme/ireporter/internal/models"
	appErrors "github.com/noah-isme/ireporter/pkg/errors"
)

type command func(a *app, ctx context.Context, args []string) error

var commands = map[string]command{
	"signup":   (*app).signup,
	"login":    (*app).login,
	"logout":   (*app).logout,
	"password": (*app).password,
	"whoami":   (*app).whoami,
	"can":      (*app).can,
	"list":     (*app).list,
	"show":     (*app).show,
	"create":   (*app).create,
	"edit":     (*app).edit,
	"delete":   (*app).remove,
	"status":   (*app).status,
	"attach":   (*app).attach,
	"export":   (*app).export,
}

func newFlags(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// signedIn restores the persisted session and fails when there is none.
func (a *app) signedIn(ctx context.Context) (*models.Session, error) {
	sess, err := a.store.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthenticated, "not signed in, run ireporter login")
	}
	return sess, nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := newFlags("login", a.out)
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("IREPORTER_PASSWORD"), "account password (or IREPORTER_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sess, err := a.store.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	landing, _ := gate.Landing(sess.Role)
	fmt.Fprintf(a.out, "signed in as %s (%s), home %s\n", displayName(sess), sess.Role, landing)
	return nil
}

func (a *app) signup(ctx context.Context, args []string) error {
	fs := newFlags("signup", a.out)
	var req models.SignupRequest
	fs.StringVar(&req.FirstName, "first-name", "", "first name")
	fs.StringVar(&req.LastName, "last-name", "", "last name")
	fs.StringVar(&req.Email, "email", "", "account email")
	fs.StringVar(&req.Password, "password", os.Getenv("IREPORTER_PASSWORD"), "at least 6 characters (or IREPORTER_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	user, err := a.store.Signup(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "account created for %s, run ireporter login -email %s\n", strings.TrimSpace(user.FirstName+" "+user.LastName), user.Email)
	return nil
}

func (a *app) password(ctx context.Context, args []string) error {
	fs := newFlags("password", a.out)
	var req models.ChangePasswordRequest
	fs.StringVar(&req.OldPassword, "old", os.Getenv("IREPORTER_PASSWORD"), "current password (or IREPORTER_PASSWORD)")
	fs.StringVar(&req.NewPassword, "new", "", "new password, at least 6 characters")
	fs.StringVar(&req.ConfirmPassword, "confirm", "", "new password again")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.signedIn(ctx); err != nil {
		return err
	}
	if err := a.store.ChangePassword(ctx, req); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "password changed")
	return nil
}

func (a *app) logout(ctx context.Context, _ []string) error {
	// Restoring loads the token so the service can revoke it.
	if _, err := a.store.Restore(ctx); err != nil {
		a.logger.Debug("restore before logout failed", zap.Error(err))
	}
	a.store.Logout(ctx)
	fmt.Fprintln(a.out, "signed out")
	return nil
}

func (a *app) whoami(ctx context.Context, _ []string) error {
	sess, err := a.signedIn(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "user\t%s\n", sess.UserID)
	fmt.Fprintf(tw, "name\t%s\n", displayName(sess))
	fmt.Fprintf(tw, "email\t%s\n", sess.Email)
	fmt.Fprintf(tw, "role\t%s\n", sess.Role)
	if !sess.IssuedAt.IsZero() {
		fmt.Fprintf(tw, "since\t%s\n", sess.IssuedAt.Local().Format(time.RFC1123))
	}
	return tw.Flush()
}

func (a *app) can(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return appErrors.Clone(appErrors.ErrValidation, "usage: ireporter can <path>")
	}
	route, ok := gate.Lookup(args[0])
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown view %s", args[0]))
	}
	sess, err := a.store.Restore(ctx)
	if err != nil {
		return err
	}
	d := gate.CanAccess(route, sess)
	if d.Outcome == gate.Redirect {
		fmt.Fprintf(a.out, "%s -> %s\n", d.Outcome, d.Path)
		return nil
	}
	fmt.Fprintln(a.out, d.Outcome)
	return nil
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := newFlags("list", a.out)
	all := fs.Bool("all", false, "list every report (admins)")
	kindFlag := fs.String("kind", "", "red_flag or intervention")
	statusFlag := fs.String("status", "", "only reports in this status (with -all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.signedIn(ctx); err != nil {
		return err
	}

	var (
		list []models.Report
		err  error
	)
	if *all {
		var filter reports.Filter
		if *kindFlag != "" {
			kind, err := parseKind(*kindFlag)
			if err != nil {
				return err
			}
			filter.Kind = &kind
		}
		if *statusFlag != "" {
			status, ok := models.ParseStatus(*statusFlag)
			if !ok {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", *statusFlag))
			}
			filter.Status = &status
		}
		list, err = a.reports.ListAll(ctx, filter)
	} else {
		list, err = a.reports.ListMine(ctx)
		if err == nil && *kindFlag != "" {
			kind, kerr := parseKind(*kindFlag)
			if kerr != nil {
				return kerr
			}
			list = a.reports.Collection().Filter(kind)
		}
	}
	if err != nil {
		return err
	}
	return printReports(a.out, list)
}

func (a *app) show(ctx context.Context, args []string) error {
	report, sess, err := a.target(ctx, "show", args, nil)
	if err != nil {
		return err
	}
	controls := gate.Controls(&report, sess)
	tw := tabwriter.NewWriter(a.out, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", report.ID)
	fmt.Fprintf(tw, "kind\t%s\n", report.Kind.Label())
	fmt.Fprintf(tw, "title\t%s\n", report.Title)
	fmt.Fprintf(tw, "description\t%s\n", report.Description)
	fmt.Fprintf(tw, "status\t%s\n", report.Status.Label())
	fmt.Fprintf(tw, "location\t%s (%.6f, %.6f)\n", placeLabel(report.Location), report.Location.Latitude, report.Location.Longitude)
	fmt.Fprintf(tw, "created\t%s\n", formatTime(report.CreatedAt))
	for _, m := range report.Media {
		fmt.Fprintf(tw, "%s\t%s\n", m.MediaType, m.URL)
	}
	var actions []string
	if controls.CanEdit {
		actions = append(actions, "edit")
	}
	if controls.CanDelete {
		actions = append(actions, "delete")
	}
	if controls.CanAttach {
		actions = append(actions, "attach")
	}
	for _, s := range controls.StatusOptions {
		actions = append(actions, "status "+string(s))
	}
	if len(actions) == 0 {
		actions = append(actions, "none")
	}
	fmt.Fprintf(tw, "actions\t%s\n", strings.Join(actions, ", "))
	return tw.Flush()
}

func (a *app) create(ctx context.Context, args []string) error {
	fs := newFlags("create", a.out)
	kindFlag := fs.String("kind", string(models.KindRedFlag), "red_flag or intervention")
	title := fs.String("title", "", "report title")
	description := fs.String("description", "", "what happened")
	place := fs.String("location", "", "place name (looked up from -lat/-lng when empty)")
	lat := fs.Float64("lat", 0, "latitude")
	lng := fs.Float64("lng", 0, "longitude")
	if err := fs.Parse(args); err != nil {
		return err
	}
	kind, err := parseKind(*kindFlag)
	if err != nil {
		return err
	}
	if _, err := a.signedIn(ctx); err != nil {
		return err
	}

	if !flagSet(fs, "lat") || !flagSet(fs, "lng") {
		return appErrors.Clone(appErrors.ErrValidation, "location needs both -lat and -lng")
	}
	loc := models.Location{Name: strings.TrimSpace(*place), Latitude: *lat, Longitude: *lng}
	if loc.Name == "" {
		resolver := geo.NewResolver(geo.StaticLocator{Latitude: *lat, Longitude: *lng, Set: true}, a.geocoder, a.logger)
		if resolved, rerr := resolver.Resolve(ctx); rerr == nil {
			loc = resolved
		} else {
			loc.Name = models.UnknownLocation
		}
	}

	report, err := a.reports.Create(ctx, kind, reports.Draft{Title: *title, Description: *description, Location: &loc})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s created as %s\n", report.Kind.Label(), report.ID, report.Status.Label())
	return nil
}

func (a *app) edit(ctx context.Context, args []string) error {
	var (
		title, description, place string
		lat, lng                  float64
	)
	var fs *flag.FlagSet
	report, _, err := a.target(ctx, "edit", args, func(f *flag.FlagSet) {
		fs = f
		f.StringVar(&title, "title", "", "new title")
		f.StringVar(&description, "description", "", "new description")
		f.StringVar(&place, "location", "", "new place name")
		f.Float64Var(&lat, "lat", 0, "new latitude")
		f.Float64Var(&lng, "lng", 0, "new longitude")
	})
	if err != nil {
		return err
	}

	var patch reports.Patch
	if flagSet(fs, "title") {
		patch.Title = &title
	}
	if flagSet(fs, "description") {
		patch.Description = &description
	}
	if flagSet(fs, "location") || flagSet(fs, "lat") || flagSet(fs, "lng") {
		loc := report.Location
		if flagSet(fs, "lat") {
			loc.Latitude = lat
		}
		if flagSet(fs, "lng") {
			loc.Longitude = lng
		}
		if flagSet(fs, "location") {
			loc.Name = place
		} else {
			loc.Name = geo.NewResolver(nil, a.geocoder, a.logger).PlaceName(ctx, loc.Latitude, loc.Longitude)
		}
		patch.Location = &loc
	}

	updated, err := a.reports.Update(ctx, report, patch)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s updated\n", updated.Kind.Label(), updated.ID)
	return nil
}

func (a *app) remove(ctx context.Context, args []string) error {
	report, _, err := a.target(ctx, "delete", args, nil)
	if err != nil {
		return err
	}
	if err := a.reports.Remove(ctx, report); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s deleted successfully\n", report.Kind.Label())
	return nil
}

func (a *app) status(ctx context.Context, args []string) error {
	var to string
	report, _, err := a.target(ctx, "status", args, func(f *flag.FlagSet) {
		f.StringVar(&to, "to", "", "target status, one of "+statusChoices())
	})
	if err != nil {
		return err
	}
	if strings.TrimSpace(to) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "-to is required, one of "+statusChoices())
	}
	target, ok := models.ParseStatus(to)
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", to))
	}
	res, err := a.reports.SetStatus(ctx, report, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s is now %s\n", res.Report.Kind.Label(), res.Report.ID, res.Report.Status.Label())
	if res.Notice != "" {
		fmt.Fprintln(a.out, res.Notice)
	}
	return nil
}

func (a *app) attach(ctx context.Context, args []string) error {
	var fs *flag.FlagSet
	report, _, err := a.target(ctx, "attach", args, func(f *flag.FlagSet) { fs = f })
	if err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "usage: ireporter attach -kind K -id ID file...")
	}

	uploads := make([]reports.Upload, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("cannot open %s", p))
		}
		defer f.Close() //nolint:errcheck
		info, err := f.Stat()
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("cannot read %s", p))
		}
		uploads = append(uploads, reports.Upload{Name: filepath.Base(p), Size: info.Size(), Reader: bufio.NewReader(f)})
	}

	updated, err := a.reports.AttachMedia(ctx, report, uploads)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s now has %d attachment(s)\n", updated.Kind.Label(), updated.ID, len(updated.Media))
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := newFlags("export", a.out)
	format := fs.String("format", "csv", "csv or pdf")
	outPath := fs.String("o", "", "output file (defaults to the server's file name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.signedIn(ctx); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(".", ".ireporter-export-*")
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "cannot create output file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	name, err := a.reports.Export(ctx, *format, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	dest := *outPath
	if dest == "" {
		dest = filepath.Base(name)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "cannot write output file")
	}
	fmt.Fprintf(a.out, "wrote %s\n", dest)
	return nil
}

// target parses -kind and -id plus any extra flags and loads the report.
func (a *app) target(ctx context.Context, name string, args []string, extra func(*flag.FlagSet)) (models.Report, *models.Session, error) {
	fs := newFlags(name, a.out)
	kindFlag := fs.String("kind", string(models.KindRedFlag), "red_flag or intervention")
	id := fs.String("id", "", "report id")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return models.Report{}, nil, err
	}
	if strings.TrimSpace(*id) == "" {
		return models.Report{}, nil, appErrors.Clone(appErrors.ErrValidation, "-id is required")
	}
	kind, err := parseKind(*kindFlag)
	if err != nil {
		return models.Report{}, nil, err
	}
	sess, err := a.signedIn(ctx)
	if err != nil {
		return models.Report{}, nil, err
	}
	report, err := a.reports.Get(ctx, kind, *id)
	if err != nil {
		return models.Report{}, nil, err
	}
	return report, sess, nil
}

func parseKind(raw string) (models.ReportKind, error) {
	kind, ok := models.ParseKind(raw)
	if !ok {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown report kind %q", raw))
	}
	return kind, nil
}

// statusChoices lists the lifecycle states, marking the final ones.
func statusChoices() string {
	var names []string
	for _, s := range lifecycle.States {
		if lifecycle.Terminal(s) {
			names = append(names, string(s)+" (final)")
			continue
		}
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printReports(w io.Writer, list []models.Report) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no reports")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tTITLE\tLOCATION\tCREATED")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Kind.Label(), r.Status.Label(), r.Title, placeLabel(r.Location), formatTime(r.CreatedAt))
	}
	return tw.Flush()
}

func placeLabel(loc models.Location) string {
	if strings.TrimSpace(loc.Name) == "" {
		return models.UnknownLocation
	}
	return loc.Name
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func displayName(sess *models.Session) string {
	if sess.DisplayName != "" {
		return sess.DisplayName
	}
	if sess.Email != "" {
		return sess.Email
	}
	return sess.UserID
}

// describe renders an error for the terminal. Remote failures include the
// HTTP status when there was one.
func describe(err error) string {
	if reports.IsCancelled(err) {
		return "cancelled before the service answered"
	}
	var appErr *appErrors.Error
	if !errors.As(err, &appErr) {
		return err.Error()
	}
	if appErr.Code == appErrors.ErrFetch.Code && appErr.Status > 0 {
		return fmt.Sprintf("%s (HTTP %d)", appErr.Message, appErr.Status)
	}
	return appErr.Message
}
