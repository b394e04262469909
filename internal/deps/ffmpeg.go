package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveFFmpeg reports the ffmpeg binary used for camera capture and clip
// encoding. An explicit path must exist and be executable; a bare name is
// resolved from PATH.
func ResolveFFmpeg(configured string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Required for camera capture and clip encoding",
	}
	binary := strings.TrimSpace(configured)
	if binary == "" {
		binary = "ffmpeg"
	}
	result.Command = binary

	if strings.ContainsRune(binary, filepath.Separator) {
		info, err := os.Stat(binary)
		if err != nil {
			result.Detail = fmt.Sprintf("binary %q not found", binary)
			return result
		}
		if !isExecutable(info) {
			result.Detail = fmt.Sprintf("binary %q is not executable", binary)
			return result
		}
		result.Available = true
		return result
	}

	resolved, err := exec.LookPath(binary)
	if err != nil {
		result.Detail = fmt.Sprintf("binary %q not found", binary)
		return result
	}
	result.Command = resolved
	result.Available = true
	return result
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
