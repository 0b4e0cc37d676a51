package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// EnsureRulesDirectory creates the rules directory if it is missing and
// checks that it is a readable directory.
func EnsureRulesDirectory(dir string, sugar *zap.SugaredLogger) error {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path for %s: %w", dir, err)
	}

	info, err := os.Stat(absPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(absPath, 0o755); err != nil {
			return fmt.Errorf("failed to create rules directory %s: %w\n"+
				"  Remediation: Ensure the parent directory exists and is writable\n"+
				"  For Docker: Check volume mount permissions", dir, err)
		}
		sugar.Warnw("Rules directory did not exist and was created empty", "path", absPath)
		return nil
	case err != nil:
		return fmt.Errorf("failed to stat rules directory %s: %w", dir, err)
	case !info.IsDir():
		return fmt.Errorf("rules path %s is not a directory\n"+
			"  Remediation: Point rules.dir or SIGMALENS_RULES_DIR at a directory of SIGMA YAML files", dir)
	}

	if _, err := os.ReadDir(absPath); err != nil {
		return fmt.Errorf("rules directory %s is not readable: %w\n"+
			"  Remediation: Check file system permissions", dir, err)
	}
	sugar.Infow("Rules directory ready", "path", absPath)
	return nil
}

// ClassifyConnectionError explains a failed connection to a dependency.
func ClassifyConnectionError(err error, service, addr string) string {
	if err == nil {
		return ""
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to %s at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - %s is starting up (wait and retry)\n"+
			"  - Network latency or firewall blocking the connection\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity: nc -zv %s", service, addr, service, addr)
	}

	errStr := strings.ToLower(err.Error())
	if errors.Is(err, syscall.ECONNREFUSED) || strings.Contains(errStr, "connection refused") {
		return fmt.Sprintf("Connection refused by %s at %s.\n"+
			"  This usually means %s is not running.\n"+
			"  Remediation:\n"+
			"  - Start %s and check its logs\n"+
			"  - Verify the address in config.yaml", service, addr, service, service)
	}

	if strings.Contains(errStr, "no such host") || strings.Contains(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in %s address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Try using IP address (127.0.0.1) instead of hostname", service, addr)
	}

	if strings.Contains(errStr, "noauth") || strings.Contains(errStr, "wrongpass") || strings.Contains(errStr, "password") {
		return fmt.Sprintf("Authentication failed for %s at %s.\n"+
			"  Remediation:\n"+
			"  - Check SIGMALENS_REDIS_PASSWORD", service, addr)
	}

	return fmt.Sprintf("Failed to connect to %s at %s: %v", service, addr, err)
}
