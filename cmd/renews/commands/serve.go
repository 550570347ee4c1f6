package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// shutdownDrainTimeout bounds how long Stop waits for in-flight sessions
// to finish on their own before it returns.
const shutdownDrainTimeout = 10 * time.Second

// waitForShutdownSignal blocks until SIGINT or SIGTERM arrives. SIGHUP is
// handled separately by config.Manager.WatchSIGHUP and never reaches
// here.
func waitForShutdownSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	signal.Stop(sig)
}

const defaultConfigTemplate = `# renews configuration. See the reference README for the full key list.

addr = "0.0.0.0:119"
# tls_addr = "0.0.0.0:563"
# ws_addr = "0.0.0.0:8080"

site_name = %q

db_path = "renews.db"

idle_timeout_secs = 600
default_retention_days = 0
default_max_article_bytes = "1M"

article_queue_capacity = 1024
article_worker_count = 4

retention_sweep_schedule = "0 0 3 * * *"

# [[group]]
# group = "local.test"
# moderated = false

# [[peer]]
# sitename = "peer.example.org"
# patterns = ["*"]
# sync_schedule = "0 */15 * * * *"
`

// writeDefaultConfig scaffolds a starter configuration file at path, used
// by --init. It refuses to overwrite an existing file.
func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("renews: %s already exists, refusing to overwrite", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("renews: %s: %w", path, err)
	}

	siteName := os.Getenv("HOSTNAME")
	if siteName == "" {
		siteName = "news.example.org"
	}
	body := fmt.Sprintf(defaultConfigTemplate, siteName)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return fmt.Errorf("renews: writing %s: %w", path, err)
	}
	fmt.Printf("renews: wrote default configuration to %s\n", path)
	return nil
}
