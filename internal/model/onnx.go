package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/lesion-api/internal/tensor"
)

var envMu sync.Mutex

type onnxSession struct {
	inputLen     int64
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// ONNXOpener returns an Opener backed by ONNX Runtime. libPath selects the
// onnxruntime shared library; empty uses the runtime's default lookup.
func ONNXOpener(libPath string) Opener {
	return func(modelPath string, meta Metadata) (Session, error) {
		return openONNX(libPath, modelPath, meta)
	}
}

func openONNX(libPath, modelPath string, meta Metadata) (*onnxSession, error) {
	envMu.Lock()
	if !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envMu.Unlock()
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envMu.Unlock()

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxSession{
		inputLen:     tensor.Elements(meta.InputShape),
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (s *onnxSession) Run(input []float32) ([]float32, error) {
	if int64(len(input)) != s.inputLen {
		return nil, fmt.Errorf("%w: got %d values, session expects %d", ErrShapeMismatch, len(input), s.inputLen)
	}
	copy(s.inputTensor.GetData(), input)

	if err := s.session.Run(); err != nil {
		return nil, err
	}
	return s.outputTensor.GetData(), nil
}

func (s *onnxSession) Close() error {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	var err error
	if s.session != nil {
		err = s.session.Destroy()
	}

	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		if derr := ort.DestroyEnvironment(); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}
