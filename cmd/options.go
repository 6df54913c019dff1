// Package cmd wires camkeeper's components and holds its subcommands.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/logging"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"camkeeper.toml"`

	// Device identity
	Thing string `help:"Device name used in topics, subjects and responses" default:"" toml:"device.thing" env:"THING"`

	// Server settings
	Port string `help:"HTTP listen address" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Storage
	SettingsFile string `help:"Runtime settings state file" default:"settings.toml" toml:"storage.settings_file" env:"SETTINGS_FILE"`
	RecordingDir string `help:"Directory for segments and merged recordings" default:"recordings" toml:"storage.recording_dir" env:"RECORDING_DIR"`
	CatalogFile  string `help:"SQLite recording catalog (empty disables)" default:"catalog.db" toml:"storage.catalog_file" env:"CATALOG_FILE"`
	HLSDir       string `help:"Directory of the HLS ring" default:"hls" toml:"storage.hls_dir" env:"HLS_DIR"`

	// Capture settings
	CaptureDevice     string `help:"Camera device path" default:"/dev/video0" toml:"capture.device" env:"CAPTURE_DEVICE"`
	CaptureFormat     string `help:"Camera input format (e.g. mjpeg, yuyv422)" default:"" toml:"capture.input_format" env:"CAPTURE_INPUT_FORMAT"`
	CaptureWidth      int    `help:"Camera capture width" default:"1920" toml:"capture.width" env:"CAPTURE_WIDTH"`
	CaptureHeight     int    `help:"Camera capture height" default:"1080" toml:"capture.height" env:"CAPTURE_HEIGHT"`
	CaptureTestSource bool   `help:"Use the ffmpeg test pattern instead of a camera" default:"false" toml:"capture.test_source" env:"CAPTURE_TEST_SOURCE"`

	// Encoder settings
	EncoderHardware string `help:"Hardware encoder preferred for sessions (empty for software only)" default:"h264_v4l2m2m" toml:"encoder.hardware" env:"ENCODER_HARDWARE"`
	EncoderMerge    string `help:"Encoder of the merge re-encoding fallback" default:"libx264" toml:"encoder.merge" env:"ENCODER_MERGE"`

	// Live outputs
	StreamingRTSPPort string `help:"RTSP server address for the live feed" default:":8554" toml:"streaming.rtsp_port" env:"STREAMING_RTSP_PORT"`
	StreamingPath     string `help:"RTSP path of the live feed" default:"live" toml:"streaming.path" env:"STREAMING_PATH"`
	StreamingOverlay  bool   `help:"Draw the ROI and motion vectors on the live feed" default:"true" toml:"streaming.overlay" env:"STREAMING_OVERLAY"`
	HLSSegments       int    `help:"Segments kept in the HLS ring" default:"6" toml:"hls.segments" env:"HLS_SEGMENTS"`
	HLSSegmentSeconds int    `help:"Target HLS segment length in seconds" default:"2" toml:"hls.segment_seconds" env:"HLS_SEGMENT_SECONDS"`

	// Control transports
	MQTTBroker   string `help:"MQTT broker URL (empty disables)" default:"" toml:"mqtt.broker" env:"MQTT_BROKER"`
	MQTTUsername string `help:"MQTT username" default:"" toml:"mqtt.username" env:"MQTT_USERNAME"`
	MQTTPassword string `help:"MQTT password" default:"" toml:"mqtt.password" env:"MQTT_PASSWORD"`
	NATSEmbedded bool   `help:"Run an embedded NATS server" default:"true" toml:"nats.embedded" env:"NATS_EMBEDDED"`
	NATSPort     int    `help:"Embedded NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`
	NATSURL      string `help:"External NATS server URL, used when the embedded server is off" default:"" toml:"nats.url" env:"NATS_URL"`

	// Features settings
	FeaturesLEDControl bool   `help:"Drive the recording LED" default:"false" toml:"features.led_control_enabled" env:"FEATURES_LED_CONTROL"`
	LEDGPIOPin         string `help:"GPIO pin of the recording LED (empty uses the board LED)" default:"" toml:"features.led_gpio_pin" env:"LED_GPIO_PIN"`
	SystemdUnit        string `help:"systemd unit restarted by the restart command" default:"camkeeper.service" toml:"systemd.unit" env:"SYSTEMD_UNIT"`
	SystemdUser        bool   `help:"Use the user systemd instance" default:"false" toml:"systemd.user" env:"SYSTEMD_USER"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingRecorder  string `help:"Recorder logging level" default:"info" toml:"logging.recorder" env:"LOGGING_RECORDER"`
	LoggingScheduler string `help:"Scheduler logging level" default:"info" toml:"logging.scheduler" env:"LOGGING_SCHEDULER"`
	LoggingMotion    string `help:"Motion detector logging level" default:"info" toml:"logging.motion" env:"LOGGING_MOTION"`
	LoggingMerge     string `help:"Merge engine logging level" default:"info" toml:"logging.merge" env:"LOGGING_MERGE"`
	LoggingFFmpeg    string `help:"ffmpeg output logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingControl   string `help:"MQTT and NATS control logging level" default:"info" toml:"logging.control" env:"LOGGING_CONTROL"`
	LoggingAPI       string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

// LoggingConfig returns the logging configuration of opts.
func (o *Options) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"recorder":  o.LoggingRecorder,
			"scheduler": o.LoggingScheduler,
			"motion":    o.LoggingMotion,
			"merge":     o.LoggingMerge,
			"ffmpeg":    o.LoggingFFmpeg,
			"control":   o.LoggingControl,
			"nats":      o.LoggingControl,
			"api":       o.LoggingAPI,
			"http":      o.LoggingAPI,
		},
	}
}

// ThingName returns the configured device name, or the host name.
func (o *Options) ThingName() string {
	if o.Thing != "" {
		return o.Thing
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return strings.ToLower(host)
	}
	return "camkeeper"
}

// NATSClientURL is the URL control clients and the event bridge dial.
func (o *Options) NATSClientURL() string {
	if o.NATSEmbedded || o.NATSURL == "" {
		return fmt.Sprintf("nats://127.0.0.1:%d", o.NATSPort)
	}
	return o.NATSURL
}

// Load fills opts from the config file and environment, keeping flags
// set on root.
func (o *Options) Load(root *cobra.Command) error {
	return config.LoadConfig(o, root)
}
