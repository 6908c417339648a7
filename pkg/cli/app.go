package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/urfave/cli"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/aquasecurity/vuln-tracker/pkg/tracker"
	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

type AppConfig struct {
	Tracker tracker.Tracker
	Out     io.Writer
}

var keyFlags = []cli.Flag{
	cli.StringFlag{
		Name:     "portal",
		Usage:    "portal name",
		Required: true,
	},
	cli.StringFlag{
		Name:  "branch",
		Usage: "branch name",
		Value: vuln.DefaultBranch,
	},
}

func (ac AppConfig) NewApp(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "vulnctl"
	app.Version = version
	app.Usage = "Vulnerability tracker admin tool"
	app.Writer = ac.out()

	app.Commands = []cli.Command{
		{
			Name:   "reconcile",
			Usage:  "reconcile the current scan report with the recorded state",
			Action: ac.reconcile,
			Flags:  keyFlags,
		},
		{
			Name:   "triage",
			Usage:  "apply triage edits read from a YAML or JSON file",
			Action: ac.triage,
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:     "edits",
					Usage:    "path to the edits file",
					Required: true,
				},
			}, keyFlags...),
		},
		{
			Name:   "show",
			Usage:  "show the recorded state without reconciling",
			Action: ac.show,
			Flags:  keyFlags,
		},
		{
			Name:   "last-modified",
			Usage:  "show the modification time of the scan report",
			Action: ac.lastModified,
			Flags:  keyFlags,
		},
	}

	return app
}

func (ac AppConfig) out() io.Writer {
	if ac.Out == nil {
		return os.Stdout
	}
	return ac.Out
}

func keyOf(c *cli.Context) vuln.Key {
	return vuln.NewKey(c.String("portal"), c.String("branch"))
}

func (ac AppConfig) reconcile(c *cli.Context) error {
	list, err := ac.Tracker.GetVulnerabilities(context.Background(), keyOf(c))
	if err != nil {
		return xerrors.Errorf("reconcile error: %w", err)
	}
	return ac.print(list)
}

func (ac AppConfig) triage(c *cli.Context) error {
	edits, err := ReadEdits(c.String("edits"))
	if err != nil {
		return err
	}

	outcome, err := ac.Tracker.ApplyTriageEdits(context.Background(), keyOf(c), edits)
	if err != nil {
		return xerrors.Errorf("triage error: %w", err)
	}
	return ac.print(outcome)
}

func (ac AppConfig) show(c *cli.Context) error {
	list, err := ac.Tracker.CurrentState(context.Background(), keyOf(c))
	if err != nil {
		return xerrors.Errorf("show error: %w", err)
	}
	return ac.print(list)
}

func (ac AppConfig) lastModified(c *cli.Context) error {
	modTime, err := ac.Tracker.GetLastModified(context.Background(), keyOf(c))
	if err != nil {
		return xerrors.Errorf("last-modified error: %w", err)
	}
	return ac.print(map[string]int64{"last_modified": modTime.UnixMilli()})
}

func (ac AppConfig) print(v interface{}) error {
	enc := json.NewEncoder(ac.out())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ReadEdits decodes a list of triage edits. Being a YAML superset, JSON files
// are accepted as well.
func ReadEdits(path string) ([]vuln.Edit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("unable to open edits file: %w", err)
	}
	defer f.Close()

	var edits []vuln.Edit
	if err = yaml.NewDecoder(f).Decode(&edits); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, xerrors.Errorf("unable to decode edits file %s: %w", path, err)
	}
	return edits, nil
}
