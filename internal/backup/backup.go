package backup

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Options struct {
	PasswordFile   string
	RepositoryPath string
	SourcePath     string
	Log            *logrus.Logger
}

// Backup snapshots the timesheet store with restic. All methods except New
// and Available require restic to be installed.
type Backup struct {
	passwordFile   string
	repositoryPath string
	sourcePath     string
	resticPath     string
	log            *logrus.Logger
	created        bool
}

func New(opts *Options) (*Backup, error) {
	o := opts
	if o == nil {
		o = &Options{}
	}
	if o.SourcePath == "" {
		return nil, fmt.Errorf("a SourcePath has to be specified")
	}
	if o.PasswordFile == "" {
		o.PasswordFile = filepath.Join(o.SourcePath, "backups.passwd")
	}
	if o.RepositoryPath == "" {
		o.RepositoryPath = fmt.Sprintf("%s_backups", o.SourcePath)
	}
	b := Backup{
		repositoryPath: o.RepositoryPath,
		sourcePath:     o.SourcePath,
		passwordFile:   o.PasswordFile,
		log:            o.Log,
	}

	if b.log == nil {
		b.log = logrus.New()
		b.log.SetLevel(logrus.ErrorLevel)
	}
	return &b, nil
}

func (b *Backup) Available() bool {
	path, err := exec.LookPath("restic")
	if err != nil || path == "" {
		return false
	}
	b.resticPath = path
	return true
}

func (b *Backup) Init() error {
	if err := b.ensurePasswordFile(); err != nil {
		return err
	}
	return b.ensureRepository()
}

// Created reports whether Init had to create a new repository.
func (b *Backup) Created() bool {
	return b.created
}

func (b *Backup) CreateSnapshot() error {
	b.log.Infof("Creating snapshot of %s", b.sourcePath)
	if _, err := b.restic("backup", "--exclude", filepath.Base(b.passwordFile), b.sourcePath); err != nil {
		return errors.Wrap(err, "restic backup failed")
	}
	return nil
}

func (b *Backup) Snapshots() ([]Snapshot, error) {
	out, err := b.restic("snapshots", "--json")
	if err != nil {
		return nil, errors.Wrap(err, "restic snapshots failed")
	}
	var snapshots []Snapshot
	if err := json.Unmarshal(out, &snapshots); err != nil {
		return nil, errors.Wrap(err, "failed to decode restic snapshot listing")
	}
	return snapshots, nil
}

func (b *Backup) restic(args ...string) ([]byte, error) {
	if b.resticPath == "" && !b.Available() {
		return nil, fmt.Errorf("restic is not installed")
	}
	cmd := exec.Command(b.resticPath, args...)
	cmd.Env = []string{
		fmt.Sprintf("RESTIC_REPOSITORY=%s", b.repositoryPath),
		fmt.Sprintf("RESTIC_PASSWORD_FILE=%s", b.passwordFile),
		fmt.Sprintf("HOME=%s", os.Getenv("HOME")),
	}
	b.log.Debugf("Running restic %v", args)
	return cmd.Output()
}

func (b *Backup) ensurePasswordFile() error {
	stats, err := os.Stat(b.passwordFile)
	if err != nil {
		if os.IsNotExist(err) {
			return ioutil.WriteFile(b.passwordFile, []byte(uuid.NewString()), 0600)
		}
		return err
	}
	if stats.IsDir() {
		return fmt.Errorf("%s is a directory and not a file", b.passwordFile)
	}
	return nil
}

func (b *Backup) ensureRepository() error {
	configFile := filepath.Join(b.repositoryPath, "config")
	stats, err := os.Stat(b.repositoryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return b.createRepository()
		}
		return err
	}
	if !stats.IsDir() {
		return fmt.Errorf("%s is not a directory", b.repositoryPath)
	}
	if _, err := os.Stat(configFile); err != nil {
		if os.IsNotExist(err) {
			return b.createRepository()
		}
		return err
	}
	return nil
}

func (b *Backup) createRepository() error {
	if _, err := b.restic("init"); err != nil {
		return errors.Wrap(err, "restic init failed")
	}
	b.created = true
	return nil
}
