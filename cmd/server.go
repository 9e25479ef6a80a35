package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/babelcloud/camcast/config"
	"github.com/babelcloud/camcast/internal/procgroup"
	"github.com/babelcloud/camcast/internal/server"
	"github.com/babelcloud/camcast/internal/util"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const serviceName = "camcast-server"

// streamFlags are configuration overrides accepted by start and restart.
type streamFlags struct {
	camera string
	device int
	maxFPS float64
}

func (f *streamFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.camera, "camera", "", "Camera driver (pattern, gocv)")
	flags.IntVar(&f.device, "device", -1, "Camera device index")
	flags.Float64Var(&f.maxFPS, "max-fps", 0, "Maximum frames per second sent to each viewer")
}

// apply pushes explicitly set flags into the configuration.
func (f *streamFlags) apply() {
	if f.camera != "" {
		config.Set("camera.driver", f.camera)
	}
	if f.device >= 0 {
		config.Set("camera.device", f.device)
	}
	if f.maxFPS > 0 {
		config.Set("stream.max_fps", f.maxFPS)
	}
}

// args renders the explicitly set flags for a daemon child process.
func (f *streamFlags) args() []string {
	var args []string
	if f.camera != "" {
		args = append(args, "--camera", f.camera)
	}
	if f.device >= 0 {
		args = append(args, "--device", strconv.Itoa(f.device))
	}
	if f.maxFPS > 0 {
		args = append(args, "--max-fps", strconv.FormatFloat(f.maxFPS, 'f', -1, 64))
	}
	return args
}

// NewServerCmd creates the server command with subcommands
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage the camcast server",
		Long:  `Manage the camcast server that captures from the camera and streams to viewers.`,
	}

	cmd.AddCommand(newServerStartCmd())
	cmd.AddCommand(newServerStopCmd())
	cmd.AddCommand(newServerStatusCmd())
	cmd.AddCommand(newServerRestartCmd())

	return cmd
}

// newServerStartCmd creates the 'server start' subcommand
func newServerStartCmd() *cobra.Command {
	var (
		port                   int
		foreground             bool
		internalDaemon         bool
		daemonStartLogFilename string
		stream                 streamFlags
	)

	cmd := &cobra.Command{
		Use:           "start",
		Short:         "Start the server",
		Long:          `Start the camcast server if it's not already running.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.Set("server.port", port)
			stream.apply()
			if foreground {
				return runServerInForeground(port)
			}
			if internalDaemon {
				return runServerInBackground(port, daemonStartLogFilename)
			}
			// Default: run in daemon mode
			return runServerInDaemon(port, stream.args())
		},
		Example: `  # Start server in background
  camcast server start

  # Start server in foreground (see logs)
  camcast server start --foreground
  camcast server start -f

  # Start server on specific port with a hardware camera
  camcast server start -p 8080 --camera gocv --device 0`,
	}

	flags := cmd.Flags()
	flags.IntVarP(&port, "port", "p", config.GetPort(), "Server port")
	flags.BoolVarP(&foreground, "foreground", "f", false, "Run server in foreground (show logs)")
	stream.register(flags)

	// Flag --internal-daemon is hidden in help message for internal use.
	flags.BoolVarP(&internalDaemon, "internal-daemon", "", false, "")
	flags.Lookup("internal-daemon").Hidden = true
	flags.StringVarP(&daemonStartLogFilename, "daemon-start-log-filename", "", "", "")
	flags.Lookup("daemon-start-log-filename").Hidden = true

	return cmd
}

// newServerStopCmd creates the 'server stop' subcommand
func newServerStopCmd() *cobra.Command {
	var (
		port  int
		force bool
	)

	cmd := &cobra.Command{
		Use:           "stop",
		Short:         "Stop the server",
		Long:          `Stop the camcast server if it's running.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopServer(port, force)
		},
		Example: `  # Stop the server
  camcast server stop

  # Stop server running on specified port
  camcast server stop -p 8888`,
	}

	flags := cmd.Flags()
	flags.IntVarP(&port, "port", "p", config.GetPort(), "Server port")
	flags.BoolVarP(&force, "force", "f", false, "Ignore errors if the server is not reachable")

	return cmd
}

// newServerStatusCmd creates the 'server status' subcommand
func newServerStatusCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check server status",
		Long:  `Check if the camcast server is running and display its status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkServerStatus(port); err != nil {
				fmt.Println(color.RedString("Server is not running"))
				fmt.Println("   Use 'camcast server start' to start the server")
				return nil
			}

			base := fmt.Sprintf("http://localhost:%d", port)
			fmt.Println(color.GreenString("Server is running"))
			fmt.Printf("   Web UI: %s\n", color.CyanString(base))
			fmt.Printf("   Live stream: %s\n", color.CyanString("ws://localhost:%d/live", port))

			status, err := fetchStatus(port)
			if err != nil {
				return nil
			}
			if viewers, ok := status["viewers"].(map[string]interface{}); ok {
				fmt.Printf("   Viewers: %v\n", viewers["count"])
			}
			if capture, ok := status["capture"].(map[string]interface{}); ok {
				state := fmt.Sprint(capture["state"])
				stateColor := color.New(color.Faint)
				if state == "active" {
					stateColor = color.New(color.FgGreen)
				}
				fmt.Printf("   Capture: %s (captures %v, camera errors %v)\n",
					stateColor.Sprint(state), capture["captures"], capture["camera_errors"])
			}
			if frames, ok := status["frames"].(map[string]interface{}); ok {
				fmt.Printf("   Latest frame: #%v\n", frames["version"])
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", config.GetPort(), "Server port")
	return cmd
}

// newServerRestartCmd creates the 'server restart' subcommand
func newServerRestartCmd() *cobra.Command {
	var (
		port       int
		foreground bool
		stream     streamFlags
	)

	cmd := &cobra.Command{
		Use:           "restart",
		Short:         "Restart the server",
		Long:          `Stop and then start the camcast server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := stopServer(port, true); err != nil {
				return err
			}
			config.Set("server.port", port)
			stream.apply()
			if foreground {
				return runServerInForeground(port)
			}
			return runServerInDaemon(port, stream.args())
		},
		Example: `  # Restart the server
  camcast server restart

  # Restart in foreground mode
  camcast server restart -f`,
	}

	flags := cmd.Flags()
	flags.IntVarP(&port, "port", "p", config.GetPort(), "Server port")
	flags.BoolVarP(&foreground, "foreground", "f", false, "Run server in foreground after restart (show logs)")
	stream.register(flags)

	return cmd
}

// Helper functions

// runServerInDaemon re-executes the binary as a detached server process and
// waits for it to answer health checks.
func runServerInDaemon(port int, extraArgs []string) error {
	if err := checkServerStatus(port); err != nil {
		if err == ServerMismatchedError {
			return errors.Wrapf(err, "port %d is already been used", port)
		}
	} else {
		fmt.Printf("server has been already started on port %d\n", port)
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "failed to get executable")
	}

	runID := uuid.New()
	daemonStartLogFilename := filepath.Join(os.TempDir(), "camcast-server-"+runID.String())
	defer os.RemoveAll(daemonStartLogFilename)

	args := []string{"server", "start", "--port", strconv.Itoa(port), "--internal-daemon", "--daemon-start-log-filename", daemonStartLogFilename}
	if verbose {
		args = append(args, "--verbose")
	}
	args = append(args, extraArgs...)

	cmd := exec.Command(executable, args...)
	procgroup.SetProcGrp(cmd)
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start server daemon")
	}

	for range 3 {
		time.Sleep(time.Second)
		if err := checkServerStatus(port); err != nil {
			startLog, err := os.ReadFile(daemonStartLogFilename)
			if err != nil {
				continue
			}
			return errors.Errorf("fail to start server on port %d: %s", port, string(startLog))
		}
	}

	fmt.Printf("server has been started on port %d\n", port)
	return nil
}

func runServerInBackground(port int, startLogFilename string) error {
	logFile := config.GetLogFile()
	closer, err := util.SetLogFile(logFile, verbose)
	if err != nil {
		os.WriteFile(startLogFilename, []byte(err.Error()), 0600)
		return err
	}
	defer closer.Close()

	srv, err := server.NewLiveServer(config.Load())
	if err != nil {
		os.WriteFile(startLogFilename, []byte(err.Error()), 0600)
		return err
	}

	if err := srv.Start(); err != nil {
		err := errors.Wrapf(err, "failed to start server")
		os.WriteFile(startLogFilename, []byte(err.Error()), 0600)
		return err
	}
	return srv.Stop()
}

func checkServerStatus(port int) error {
	url := fmt.Sprintf("http://localhost:%d/api/health", port)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return ServerPortUnavailableError
	}
	defer resp.Body.Close()
	var body struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ServerMismatchedError
	}
	if body.Service != serviceName {
		return ServerMismatchedError
	}
	return nil
}

func fetchStatus(port int) (map[string]interface{}, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/api/status", port))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, errors.Wrap(err, "invalid status response")
	}
	return status, nil
}

func stopServer(port int, force bool) error {
	if err := checkServerStatus(port); err != nil && !force {
		if err == ServerPortUnavailableError {
			return errors.Errorf("server is not running")
		}
		if err == ServerMismatchedError {
			return errors.Wrapf(err, "port %d is already been used by other process", port)
		}
	}

	url := fmt.Sprintf("http://localhost:%d/api/server/shutdown", port)
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		if force {
			return nil
		}
		return ServerPortUnavailableError
	}
	defer resp.Body.Close()
	io.ReadAll(resp.Body)
	time.Sleep(1 * time.Second)
	return nil
}

func runServerInForeground(port int) error {
	if err := checkServerStatus(port); err != nil {
		if err == ServerMismatchedError {
			return errors.Wrapf(err, "port %d is already been used", port)
		}
	} else {
		fmt.Printf("server has been already started on port %d\n", port)
		return nil
	}

	settings := config.Load()
	srv, err := server.NewLiveServer(settings)
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	for range 3 {
		time.Sleep(time.Second)
		if err := checkServerStatus(port); err != nil {
			select {
			case startErr := <-errChan:
				return errors.Wrapf(startErr, "fail to start server on port %d", port)
			default:
				continue
			}
		}
		break
	}

	fmt.Printf("%s %s %s\n",
		color.New(color.FgGreen, color.Bold).Sprint("camcast"),
		color.CyanString("➜"),
		color.BlueString("http://localhost:%d", port))
	fmt.Printf("   camera %s, max %.0f fps\n", color.CyanString(settings.CameraDriver), settings.MaxFPS)
	fmt.Printf("Press %s to stop...\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("Shutting down server...")
	case err := <-errChan:
		// Stopped through the API.
		if err != nil {
			return err
		}
	}

	if err := srv.Stop(); err != nil {
		log.Printf("Error stopping server: %v", err)
	}
	return nil
}

var ServerPortUnavailableError = &serverPortUnavailableError{}

type serverPortUnavailableError struct{}

func (e *serverPortUnavailableError) Error() string {
	return "server port unavailable"
}

var ServerMismatchedError = &serverMismatchedError{}

type serverMismatchedError struct{}

func (e *serverMismatchedError) Error() string {
	return "server mismatched"
}
