package compiler

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EnvQBE overrides the backend compiler binary discovered on PATH.
const EnvQBE = "JYAFN_QBE"

// BackendError reports a failed stage of the external build pipeline,
// carrying the stage's stderr.
type BackendError struct {
	Stage  string
	Detail string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend stage %s failed: %s", e.Stage, e.Detail)
}

// Toolchain turns IR text into a shared object inside dir, returning its
// path.
type Toolchain interface {
	Build(irText, dir string) (string, error)
}

// SystemToolchain shells out to qbe, the system assembler and the system
// linker. IR goes to qbe on stdin; every later stage works through files in
// the build directory.
type SystemToolchain struct {
	QBE       string
	Assembler string
	Linker    string
	Logger    *zap.Logger
}

// FindSystemToolchain locates the three backend binaries, honoring the
// JYAFN_QBE override for the first.
func FindSystemToolchain(logger *zap.Logger) (*SystemToolchain, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	qbe := os.Getenv(EnvQBE)
	if qbe == "" {
		var err error
		if qbe, err = exec.LookPath("qbe"); err != nil {
			return nil, errors.Wrapf(err, "qbe not on PATH; install it or set %s", EnvQBE)
		}
	}
	as, err := exec.LookPath("as")
	if err != nil {
		return nil, errors.Wrap(err, "system assembler not on PATH")
	}
	ld, err := exec.LookPath("ld")
	if err != nil {
		return nil, errors.Wrap(err, "system linker not on PATH")
	}
	return &SystemToolchain{QBE: qbe, Assembler: as, Linker: ld, Logger: logger}, nil
}

// Build implements Toolchain.
func (t *SystemToolchain) Build(irText, dir string) (string, error) {
	asm := filepath.Join(dir, "fn.s")
	obj := filepath.Join(dir, "fn.o")
	so := filepath.Join(dir, "fn.so")

	if err := t.stage("qbe", t.QBE, strings.NewReader(irText), "-o", asm); err != nil {
		return "", err
	}
	if err := t.stage("as", t.Assembler, nil, "-o", obj, asm); err != nil {
		return "", err
	}
	// Undefined libc and libm symbols resolve at load time against the
	// host process.
	if err := t.stage("ld", t.Linker, nil, "-shared", "-o", so, obj); err != nil {
		return "", err
	}
	return so, nil
}

func (t *SystemToolchain) stage(name, bin string, stdin io.Reader, args ...string) error {
	start := time.Now()
	cmd := exec.Command(bin, args...)
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return &BackendError{Stage: name, Detail: detail}
	}
	if t.Logger != nil {
		t.Logger.Debug("backend stage done",
			zap.String("stage", name),
			zap.Duration("took", time.Since(start)))
	}
	return nil
}
