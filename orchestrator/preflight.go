package orchestrator

import (
	"os"
	"os/exec"
	"strings"

	"github.com/darkhz/bttnc/errorkinds"
	"github.com/darkhz/bttnc/kiss"
	"github.com/darkhz/bttnc/rfcomm"
)

var (
	geteuid  = os.Geteuid
	lookPath = exec.LookPath
)

// Preflight checks that the process runs as root and that the required
// tools are installed. The KISS tools are only required if needKISS is set.
func Preflight(needKISS bool) error {
	if geteuid() != 0 {
		return errorkinds.New(errorkinds.ErrNotPrivileged, nil)
	}

	tools := []string{rfcomm.Command}
	if needKISS {
		tools = append(tools, kiss.AttachCommand, kiss.ParamsCommand)
	}

	var missing []string
	for _, tool := range tools {
		if _, err := lookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}

	if len(missing) > 0 {
		return errorkinds.Newf(errorkinds.ErrMissingPrerequisites, "%s not found in PATH", strings.Join(missing, ", "))
	}

	return nil
}
