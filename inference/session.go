// Package inference - ONNX runtime sessions for the mask-refinement head.
package inference

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// SharedLibPath returns the default onnxruntime library for this platform.
func SharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// initEnvironment loads the native library once per process.
func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath == "" {
			libPath = SharedLibPath()
		}
		if _, err := os.Stat(libPath); err != nil {
			envErr = errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = errors.Wrap(err, "error initializing ORT environment")
		}
	})
	return envErr
}

// SessionConfig describes a single-input, single-output float32 graph.
type SessionConfig struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	InputShape  ort.Shape
	OutputShape ort.Shape
}

// Session holds a native session bound to preallocated tensors.
//
// The tensors are shared, so Run calls are serialized.
type Session struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

// NewSession loads the model and allocates its tensors.
//
// Arguments:
//   - cfg: Model path, tensor names and shapes.
//
// Returns:
//   - *Session: Ready to Run.
//   - error: If the library, the tensors or the graph cannot be loaded.
func NewSession(cfg SessionConfig) (*Session, error) {
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](cfg.InputShape)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](cfg.OutputShape)
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()
	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended)

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrapf(err, "error creating ORT session for %s", cfg.ModelPath)
	}

	return &Session{session: session, Input: input, Output: output}, nil
}

// Run fills the input tensor with fill, runs the graph and hands the output
// data to read. Both callbacks run under the session lock.
func (s *Session) Run(fill func([]float32) error, read func([]float32) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return errors.New("session is closed")
	}
	if err := fill(s.Input.GetData()); err != nil {
		return err
	}
	if err := s.session.Run(); err != nil {
		return errors.Wrap(err, "error running session")
	}
	return read(s.Output.GetData())
}

// Close releases the resources associated with the Session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Input != nil {
		s.Input.Destroy()
		s.Input = nil
	}
	if s.Output != nil {
		s.Output.Destroy()
		s.Output = nil
	}
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
}
