package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/extloader/internal/audit"
	"github.com/harun/extloader/internal/config"
	"github.com/harun/extloader/internal/logger"
	"github.com/harun/extloader/internal/metrics"
	"github.com/harun/extloader/internal/tracing"
	"github.com/harun/extloader/pkg/extension"
	"github.com/harun/extloader/pkg/webhost"
)

// BuiltinModules holds entry points linked into the binary. Entries here
// take precedence over native and RPC modules at the same path.
var BuiltinModules = extension.NewRegistry()

// host bundles what every command needs: config, logging and metrics
type host struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	audit   *audit.Trail

	// shutdownTracing is nil unless tracing is enabled
	shutdownTracing tracing.ShutdownFunc
}

func newHost(cmd *cobra.Command) (*host, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		if err := config.NewValidator().ValidateLogLevel(logLevel); err != nil {
			return nil, err
		}
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	h := &host{cfg: cfg, log: log}
	if cfg.Logging.AuditFile != "" {
		if h.audit, err = audit.Open(cfg.Logging.AuditFile); err != nil {
			_ = log.Close()
			return nil, err
		}
	}
	if cfg.Metrics.Enabled {
		h.metrics = metrics.NewMetrics()
	}
	if cfg.Tracing.Enabled {
		tracing.Version = version
		shutdown, err := tracing.Setup(cfg.Tracing.ServiceName)
		if err != nil {
			log.Warn().Err(err).Msg("Tracing disabled")
		} else {
			h.shutdownTracing = shutdown
		}
	}

	log.Debug().Str("settings", fmt.Sprint(cfg.Settings)).Msg("Configuration loaded")
	return h, nil
}

func (h *host) close() {
	if h.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.shutdownTracing(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}
	if h.audit != nil {
		if err := h.audit.Close(); err != nil {
			h.log.Warn().Err(err).Msg("Failed to close audit trail")
		}
	}
	_ = h.log.Close()
}

func (h *host) zerolog() zerolog.Logger {
	return h.log.GetZerolog()
}

// basePaths returns args when given, the configured paths otherwise
func (h *host) basePaths(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return h.cfg.Extensions.Paths
}

func (h *host) modules() extension.ModuleLoader {
	var native, rpc extension.ModuleLoader
	if h.cfg.Extensions.NativeModules {
		native = extension.NewNativeLoader(h.zerolog())
	}
	if h.cfg.Extensions.RPCModules {
		rpc = extension.NewRPCLoader(h.zerolog())
	}
	return extension.NewDispatchLoader(h.zerolog(), BuiltinModules, native, rpc)
}

func (h *host) initializer() *extension.Initializer {
	var observer extension.Observer
	if h.metrics != nil {
		observer = h.metrics
	}
	return extension.NewInitializer(h.zerolog(), h.cfg.InitializerConfig(h.modules(), observer))
}

// pass is the outcome of one initialization run
type pass struct {
	result *extension.InitResult
	rc     *extension.RuntimeContext
	router *webhost.Router
}

// runPass initializes role over basePaths. For the webapp role the
// accumulated extension routes are mounted on the returned router.
func (h *host) runPass(ctx context.Context, role extension.Role, basePaths []string) (*pass, error) {
	rc := extension.NewRuntimeContext(h.cfg.Settings)
	h.logEvents(rc)
	if h.audit != nil {
		h.audit.Attach(rc.Emitter)
	}

	var app extension.AppHandle
	var router *webhost.Router
	if role == extension.RoleWebapp {
		router = webhost.NewRouter(nil, h.zerolog())
		app = router
	}

	result, err := h.initializer().InitExtensions(ctx, basePaths, role, rc, app)
	rc.Emitter.Wait()
	if err != nil {
		if result != nil {
			_ = result.Close()
		}
		return nil, err
	}

	if router != nil {
		router.MountRoutes(rc.ExtensionRoutes())
	}
	return &pass{result: result, rc: rc, router: router}, nil
}

func (h *host) logEvents(rc *extension.RuntimeContext) {
	log := h.zerolog().With().Str("component", "events").Logger()
	for _, event := range []string{extension.EventLoaded, extension.EventInitialized, extension.EventFailed} {
		event := event
		rc.Emitter.On(event, func(payload any) {
			p, ok := payload.(extension.EventPayload)
			if !ok {
				return
			}
			e := log.Debug()
			if p.Err != nil {
				e = log.Warn().Err(p.Err)
			}
			e.Str("event", event).Str("extension", p.Name).Str("run_id", p.RunID).Msg("Extension event")
		})
	}
}

func printList(w io.Writer, title string, items []string) {
	fmt.Fprintf(w, "%s (%d):\n", title, len(items))
	for _, item := range items {
		fmt.Fprintf(w, "  %s\n", item)
	}
}
