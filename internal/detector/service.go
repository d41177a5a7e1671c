package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/krypton/internal/detection"
)

const defaultIdleTimeout = 30 * time.Second

// ServiceModel implements Model using a Python YOLO subprocess.
//
// Frames are sent as a 4-byte big-endian length followed by JSON
// parameters, then a 4-byte length followed by JPEG bytes. The service
// answers every frame with one JSON line. After a period without requests
// the process is stopped and restarted lazily on the next frame.
type ServiceModel struct {
	idleTimeout time.Duration
	command     func(id string) (*exec.Cmd, error)

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	modelID   string
	classes   []string
	device    DeviceInfo
	idleTimer *time.Timer
}

// NewServiceModel creates a subprocess-backed model. The Python process is
// started by Load.
func NewServiceModel() (*ServiceModel, error) {
	if findServiceScript() == "" {
		return nil, fmt.Errorf("yolo_service.py not found")
	}

	return &ServiceModel{
		idleTimeout: defaultIdleTimeout,
		command:     serviceCommand,
		device:      DeviceInfo{Device: "cpu"},
	}, nil
}

type handshake struct {
	Classes    []string `json:"classes"`
	Device     string   `json:"device"`
	Name       string   `json:"name"`
	MemoryFree *uint64  `json:"memory_free"`
	Error      string   `json:"error"`
}

type inferParams struct {
	Confidence float64 `json:"confidence"`
	IOU        float64 `json:"iou"`
}

type inferResponse struct {
	Detections []jsonDetection `json:"detections"`
	Error      string          `json:"error"`
}

type jsonDetection struct {
	ClassID    int        `json:"class_id"`
	ClassName  string     `json:"class_name"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// Load starts the service for model id and waits for its handshake.
// A running service for another model is stopped first.
func (s *ServiceModel) Load(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		if err := s.shutdown(); err != nil {
			logServiceExit(err)
		}
	}
	if err := s.start(id); err != nil {
		return err
	}

	s.modelID = id
	s.resetIdleTimer()
	return nil
}

// Infer encodes frame as JPEG and sends it to the service.
func (s *ServiceModel) Infer(frame gocv.Mat, confidence, iou float64) ([]detection.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.modelID == "" {
		return nil, ErrModelNotLoaded
	}
	if !s.started {
		if err := s.start(s.modelID); err != nil {
			return nil, err
		}
	}

	params, err := json.Marshal(inferParams{Confidence: confidence, IOU: iou})
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	buf, err := gocv.IMEncode(".jpg", frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	if err := writeFramed(s.stdin, params); err != nil {
		return nil, fmt.Errorf("write params: %w", err)
	}
	if err := writeFramed(s.stdin, buf.GetBytes()); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := s.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response inferResponse
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, errors.New(response.Error)
	}

	result := make([]detection.Detection, len(response.Detections))
	for i, d := range response.Detections {
		result[i] = d.toDetection()
	}

	s.resetIdleTimer()
	return result, nil
}

// Classes returns the class names reported by the service handshake.
func (s *ServiceModel) Classes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classes
}

// Device returns the device reported by the service handshake.
func (s *ServiceModel) Device() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Close shuts down the Python process.
func (s *ServiceModel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelID = ""
	return s.shutdown()
}

func (s *ServiceModel) start(id string) error {
	cmd, err := s.command(id)
	if err != nil {
		return err
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start yolo service: %w", err)
	}

	reader := bufio.NewReader(stdout)
	line, err := reader.ReadString('\n')
	if err != nil {
		stdin.Close()
		cmd.Wait()
		return fmt.Errorf("read handshake: %w", err)
	}

	var hs handshake
	if err := json.Unmarshal([]byte(line), &hs); err != nil {
		stdin.Close()
		cmd.Wait()
		return fmt.Errorf("parse handshake: %w", err)
	}
	if hs.Error != "" {
		stdin.Close()
		cmd.Wait()
		return errors.New(hs.Error)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = reader
	s.started = true
	s.classes = hs.Classes
	s.device = DeviceInfo{Device: hs.Device, Name: hs.Name, MemoryFree: hs.MemoryFree}
	if s.device.Device == "" {
		s.device.Device = "cpu"
	}

	return nil
}

func (s *ServiceModel) shutdown() error {
	if !s.started {
		return nil
	}

	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}

	if s.stdin != nil {
		s.stdin.Close()
	}

	err := s.cmd.Wait()
	s.started = false
	s.cmd = nil
	s.stdin = nil
	s.stdout = nil

	return err
}

func (s *ServiceModel) resetIdleTimer() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.idleTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.shutdown(); err != nil {
			logServiceExit(err)
		}
	})
}

func logServiceExit(err error) {
	log.Printf("detector: yolo service exited: %v", err)
}

func writeFramed(w io.Writer, payload []byte) error {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(payload)))

	if _, err := w.Write(length); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func (d jsonDetection) toDetection() detection.Detection {
	return detection.NewDetection(d.ClassID, d.ClassName, d.Confidence, d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3])
}

func serviceCommand(id string) (*exec.Cmd, error) {
	scriptPath := findServiceScript()
	if scriptPath == "" {
		return nil, fmt.Errorf("yolo_service.py not found")
	}

	// Use virtual environment Python if available
	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}

	return exec.Command(pythonPath, scriptPath, "--model", id), nil
}

func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	return firstExisting(
		"scripts/yolo_service.py",
		"../scripts/yolo_service.py",
		filepath.Join(execDir, "scripts/yolo_service.py"),
		filepath.Join(os.Getenv("HOME"), ".krypton/scripts/yolo_service.py"),
	)
}

// findVenvPython looks for a Python interpreter in a virtual environment
// next to the working directory, the executable or ~/.krypton.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	return firstExisting(
		"venv/bin/python",
		"../venv/bin/python",
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".krypton/venv/bin/python"),
	)
}

func firstExisting(candidates ...string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
