// cmd/gdrivectl/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresuchdata/gdrive-helper/internal/config"
	"github.com/andresuchdata/gdrive-helper/internal/drive"
	"github.com/andresuchdata/gdrive-helper/internal/tokenstore"
	"github.com/andresuchdata/gdrive-helper/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// session carries what every subcommand needs; it is filled in by Before.
type session struct {
	creds      drive.ClientCredentials
	store      tokenstore.Store
	closeStore func() error
	authorizer *drive.Authorizer
	pageSize   int
}

func main() {
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		logger.Log.Error().Err(err).Msg("gdrivectl failed")
		os.Exit(1)
	}
}

func newApp() *cli.App {
	s := &session{}

	app := &cli.App{
		Name:  "gdrivectl",
		Usage: "Authorize against Google Drive, list files and upload files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "credentials",
				Usage:   "Path to the OAuth client credentials JSON",
				EnvVars: []string{"GOOGLE_CREDENTIALS_PATH"},
			},
			&cli.StringFlag{
				Name:    "token-store",
				Usage:   "Token store backend (file, redis, postgres, s3, keyring)",
				EnvVars: []string{"TOKEN_STORE"},
			},
			&cli.StringFlag{
				Name:    "token-path",
				Usage:   "Token file path for the file backend",
				EnvVars: []string{"TOKEN_PATH"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level",
				Value:   "warn",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "consent-url",
				Usage:  "Print the consent URL, or report that a token is already stored",
				Action: s.consentURL,
			},
			{
				Name:  "exchange",
				Usage: "Redeem an authorization code and store the token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "code", Usage: "Authorization code from the consent redirect", Required: true},
				},
				Action: s.exchange,
			},
			{
				Name:  "list",
				Usage: "List files (id and name)",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page-size", Usage: "Files per page"},
					&cli.BoolFlag{Name: "all", Usage: "Follow continuation tokens through every page"},
				},
				Action: s.list,
			},
			{
				Name:  "upload",
				Usage: "Upload one or more local files into a folder",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "folder", Usage: "Destination folder id (empty for root)"},
					&cli.StringSliceFlag{Name: "file", Usage: "Local file to upload (repeatable)", Required: true},
					&cli.StringFlag{Name: "name", Usage: "Remote name (single file only)"},
					&cli.StringFlag{Name: "mime", Usage: "MIME type (detected when empty)"},
					&cli.IntFlag{Name: "concurrency", Usage: "Parallel uploads", Value: 2},
				},
				Action: s.upload,
			},
		},
	}

	// Setup runs per command so that "<command> --help" is answered before
	// credentials or a store are needed.
	for _, cmd := range app.Commands {
		cmd.Before = s.open
		cmd.After = s.close
	}
	return app
}

func (s *session) open(c *cli.Context) error {
	logger.SetLevel(c.String("log-level"))

	v := viper.New()
	config.SetDefaults(v)
	v.AutomaticEnv()
	cfg := config.FromViper(v)

	if c.IsSet("credentials") {
		cfg.Google.CredentialsPath = c.String("credentials")
	}
	if c.IsSet("token-store") {
		cfg.TokenStore.Backend = c.String("token-store")
	}
	if c.IsSet("token-path") {
		cfg.TokenStore.Path = c.String("token-path")
	}

	doc, err := cfg.Google.CredentialsDocument()
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	s.creds, err = drive.ParseCredentials(doc)
	if err != nil {
		return err
	}

	s.store, s.closeStore, err = tokenstore.Open(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}

	s.authorizer = drive.NewAuthorizer(nil)
	s.pageSize = cfg.App.PageSize
	return nil
}

func (s *session) close(*cli.Context) error {
	if s.closeStore == nil {
		return nil
	}
	return s.closeStore()
}

// client returns an authorized client or an error carrying the consent URL.
func (s *session) client(ctx context.Context) (*drive.AuthorizedClient, error) {
	auth, err := s.authorizer.Authorize(ctx, s.creds, s.store)
	if err != nil {
		return nil, err
	}
	if auth.NeedsConsent() {
		return nil, fmt.Errorf("%w: open %s and run `gdrivectl exchange --code <code>`", drive.ErrConsentRequired, auth.ConsentURL)
	}
	return auth.Client, nil
}

func (s *session) consentURL(c *cli.Context) error {
	auth, err := s.authorizer.Authorize(c.Context, s.creds, s.store)
	if err != nil {
		return err
	}
	if !auth.NeedsConsent() {
		fmt.Fprintln(c.App.Writer, "already authorized")
		return nil
	}
	fmt.Fprintln(c.App.Writer, auth.ConsentURL)
	return nil
}

func (s *session) exchange(c *cli.Context) error {
	if _, err := s.authorizer.ExchangeCode(c.Context, s.creds, c.String("code"), s.store); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "authorized")
	return nil
}

func (s *session) list(c *cli.Context) error {
	client, err := s.client(c.Context)
	if err != nil {
		return err
	}

	pageSize := s.pageSize
	if c.IsSet("page-size") {
		pageSize = c.Int("page-size")
	}

	if c.Bool("all") {
		for f, err := range drive.Files(c.Context, client, pageSize) {
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s\t%s\n", f.ID, f.Name)
		}
		return nil
	}

	files, err := drive.ListFiles(c.Context, client, pageSize)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(c.App.Writer, "No files found.")
		return nil
	}
	for _, f := range files {
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", f.ID, f.Name)
	}
	return nil
}

func (s *session) upload(c *cli.Context) error {
	paths := c.StringSlice("file")
	name := c.String("name")
	if name != "" && len(paths) > 1 {
		return errors.New("--name can only be used with a single --file")
	}

	// Check every path before the first upload starts.
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return &drive.LocalFileError{Path: p, Err: err}
		}
		if info.IsDir() {
			return &drive.LocalFileError{Path: p, Err: errors.New("is a directory")}
		}
	}

	client, err := s.client(c.Context)
	if err != nil {
		return err
	}

	ids := make([]string, len(paths))
	g, ctx := errgroup.WithContext(c.Context)
	g.SetLimit(max(1, c.Int("concurrency")))
	for i, p := range paths {
		remoteName := name
		if remoteName == "" {
			remoteName = filepath.Base(p)
		}
		g.Go(func() error {
			id, err := drive.UploadFile(ctx, client, remoteName, p, c.String("mime"), c.String("folder"))
			if err != nil {
				return fmt.Errorf("upload %s: %w", p, err)
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, p := range paths {
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", ids[i], p)
	}
	return nil
}
