package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/vmkdrivers/update-drivers/internal/compress"
	"github.com/vmkdrivers/update-drivers/internal/config"
	"github.com/vmkdrivers/update-drivers/internal/locator"
	"github.com/vmkdrivers/update-drivers/internal/replace"
	"github.com/vmkdrivers/update-drivers/internal/report"
	"github.com/vmkdrivers/update-drivers/internal/substitute"
	"github.com/vmkdrivers/update-drivers/internal/tarball"
	"github.com/vmkdrivers/update-drivers/internal/unwrap"
	"github.com/vmkdrivers/update-drivers/internal/vmtar"
	"github.com/vmkdrivers/update-drivers/internal/workspace"
)

// ErrOverrideDirMissing is returned when the override directory does not exist.
var ErrOverrideDirMissing = errors.New("override directory missing")

// Result is the outcome of one archive.
type Result struct {
	Path           string
	Base           string
	State          State
	Signed         bool
	Replaced       []string
	OriginalDigest string
	NewDigest      string
	Err            error
}

// Entry converts the result for the run report.
func (r Result) Entry() report.Entry {
	e := report.Entry{
		Path:           r.Path,
		Base:           r.Base,
		State:          r.State.String(),
		Signed:         r.Signed,
		Replaced:       r.Replaced,
		OriginalDigest: r.OriginalDigest,
		NewDigest:      r.NewDigest,
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}

// Runner executes one update pass with the given configuration. Tool converts
// containers; a nil Tool runs the vmtar binary named in Config.
type Runner struct {
	Config *config.Config
	Tool   vmtar.Converter
	Logger *log.Logger

	unwrapper *unwrap.Unwrapper
}

// NewRunner returns a Runner using the configured vmtar binary.
func NewRunner(cfg *config.Config, logger *log.Logger) *Runner {
	return &Runner{
		Config: cfg,
		Tool:   vmtar.New(cfg.Vmtar, cfg.VmtarTimeout),
		Logger: logger,
	}
}

// OverrideDirError reports a missing override directory. It matches
// ErrOverrideDirMissing with errors.Is.
type OverrideDirError struct {
	Dir string
}

func (e *OverrideDirError) Error() string {
	return fmt.Sprintf("Could not find '%s' directory", e.Dir)
}

func (e *OverrideDirError) Is(target error) bool { return target == ErrOverrideDirMissing }

// CheckOverrideDir verifies the override directory exists.
func CheckOverrideDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return &OverrideDirError{Dir: dir}
	}
	return nil
}

// Run processes every archive under the configured root. The returned report
// lists each archive in discovery order; per-archive failures are recorded in
// it and do not produce an error. Cancellation of ctx stops the run after the
// current step and returns the partial report with ctx's error.
func (r *Runner) Run(ctx context.Context) (*report.Report, error) {
	cfg := r.Config
	if err := r.prepare(); err != nil {
		return nil, err
	}
	if err := CheckOverrideDir(cfg.Drivers); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Scratch, 0755); err != nil {
		return nil, fmt.Errorf("creating scratch parent: %w", err)
	}
	lock, err := workspace.AcquireLock(cfg.Scratch)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	ws, err := workspace.New(cfg.Scratch, cfg.KeepWorkspace)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ws.Release(); err != nil {
			r.logger().Warn("Could not remove workspace", "dir", ws.Dir, "err", err)
		}
	}()
	if ws.Keep() {
		r.logger().Info("Keeping workspace", "dir", ws.Dir)
	}

	archives, err := locator.Find(ctx, locator.Options{
		Root:    cfg.Root,
		Pattern: cfg.Pattern,
		Exclude: cfg.Exclude,
	})
	if err != nil {
		return nil, err
	}
	r.logger().Debug("Located archives", "root", cfg.Root, "count", len(archives))

	rep := report.New(cfg.Root, cfg.Drivers, cfg.DryRun)
	var runErr error
	for i, path := range archives {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		res := r.ProcessArchive(ctx, ws, i, path)
		rep.Add(res.Entry())
	}
	rep.Finish()

	if runErr == nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		r.logger().Warn("Run interrupted", "err", runErr)
	}
	r.logger().Info(rep.Summary())

	if cfg.Report != "" {
		if err := rep.WriteFile(cfg.Report); err != nil {
			return rep, errors.Join(runErr, err)
		}
		r.logger().Debug("Wrote report", "path", cfg.Report)
	}
	return rep, runErr
}

// ProcessArchive runs one archive through every step, using the seq-th
// scratch subdirectory of ws. It never panics on a bad archive: failures end
// in the Failed state with Err set.
func (r *Runner) ProcessArchive(ctx context.Context, ws *workspace.Workspace, seq int, path string) Result {
	res := Result{Path: path, Base: filepath.Base(path), State: Discovered}
	logger := r.logger().With("archive", path)
	logger.Info("Examining " + path)

	fail := func(step string, err error) Result {
		res.State = Failed
		res.Err = fmt.Errorf("%s: %w", step, err)
		logger.Error("Archive failed", "base", res.Base, "err", res.Err)
		return res
	}

	if err := r.prepare(); err != nil {
		return fail("configuration", err)
	}

	p, err := ws.For(seq, res.Base)
	if err != nil {
		return fail("workspace", err)
	}
	if !ws.Keep() {
		defer p.Remove()
	}

	unwrapped, err := r.unwrapper.Unwrap(ctx, path, p)
	if err != nil {
		return fail("unwrap", err)
	}
	res.State = Decompressed
	logger.Debug("Decompressed", "format", unwrapped.OuterFormat, "state", res.State)
	if unwrapped.Signed {
		res.Signed = true
		res.State = UnwrappedSigned
		logger.Info(fmt.Sprintf("unsigned length of %s is %d", filepath.Base(p.Signed), unwrapped.UnsignedLength))
	} else {
		res.State = UnwrappedPlain
	}

	if err := r.Tool.Extract(ctx, unwrapped.Container, p.Tar); err != nil {
		return fail("vmtar extract", err)
	}
	res.State = Containerized

	if err := tarball.Extract(ctx, p.Tar, p.Tree); err != nil {
		return fail("tar extract", err)
	}
	res.State = Extracted

	sub, err := substitute.Apply(p.Tree, r.Config.ModuleDir, r.Config.Drivers)
	for _, rep := range sub.Replaced {
		logger.Info(fmt.Sprintf("Updating %s with %s", rep.Destination, rep.Source))
	}
	if err != nil {
		return fail("substitute", err)
	}
	res.Replaced = sub.Names()

	if !sub.Changed() {
		res.State = Unchanged
		logger.Info("No updates needed for " + path)
		return res
	}
	res.State = Substituted

	if r.Config.DryRun {
		logger.Info("Dry run, leaving archive untouched", "replaced", res.Replaced)
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail("repack", err)
	}
	if err := r.repack(ctx, p); err != nil {
		return fail("repack", err)
	}

	logger.Info(fmt.Sprintf("Replacing %s with %s", path, p.NewGz))
	if res.Signed {
		logger.Warn("Signature trailer dropped, archive is written back unsigned", "base", res.Base)
	}
	out, err := replace.Archive(p.NewGz, path, nil)
	if err != nil {
		return fail("replace", err)
	}
	res.OriginalDigest = out.PreviousDigest
	res.NewDigest = out.Digest
	res.State = Repacked
	logger.Debug("Replaced", "state", res.State, "blake3", out.Digest, "size", out.Size)
	return res
}

// repack rebuilds the compressed container from the extraction tree.
func (r *Runner) repack(ctx context.Context, p workspace.Paths) error {
	if err := p.RemoveRepackOutputs(); err != nil {
		return fmt.Errorf("removing leftovers: %w", err)
	}
	if err := tarball.Create(ctx, p.Tree, p.NewTar); err != nil {
		return err
	}
	if err := r.Tool.Create(ctx, p.NewTar, p.NewVtar); err != nil {
		return err
	}
	return compress.GzipFile(p.NewVtar, p.NewGz)
}

// prepare builds the unwrapper from the configured signature table once.
func (r *Runner) prepare() error {
	if r.unwrapper != nil {
		return nil
	}
	if r.Tool == nil {
		r.Tool = vmtar.New(r.Config.Vmtar, r.Config.VmtarTimeout)
	}
	table := make(map[string]unwrap.Signature)
	for name, sa := range r.Config.SignatureTable() {
		inner, err := compress.ParseFormat(sa.InnerCompression)
		if err != nil {
			return fmt.Errorf("signed archive %s: %w", name, err)
		}
		table[name] = unwrap.Signature{
			Strip:            sa.StripSignature,
			Length:           sa.SignatureLength,
			InnerCompression: inner,
		}
	}
	r.unwrapper = unwrap.New(table)
	return nil
}

func (r *Runner) logger() *log.Logger {
	if r.Logger == nil {
		r.Logger = log.Default()
	}
	return r.Logger
}
