//go:build onnx
// +build onnx

package mldetect

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// OnnxBackend implements TransformerBackend using ONNX Runtime.
type OnnxBackend struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	maxLength  int
	logger     *zap.Logger
	ready      bool
	mu         sync.RWMutex
}

// NewTransformerBackend initializes the ONNX Runtime backend. Requires build
// tag 'onnx'.
func NewTransformerBackend(logger *zap.Logger, modelPath string, maxLength int) TransformerBackend {
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		logger.Error("Failed to inspect ONNX model IO", zap.Error(err), zap.String("model", modelPath))
		return nil
	}
	if len(outputsInfo) == 0 {
		logger.Error("ONNX model reports no outputs", zap.String("model", modelPath))
		return nil
	}

	inputNames := make([]string, 0, len(inputsInfo))
	for _, ii := range inputsInfo {
		inputNames = append(inputNames, ii.Name)
	}
	outputName := outputsInfo[0].Name

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		logger.Error("ONNX Runtime session creation failed", zap.Error(err), zap.String("model", modelPath))
		return nil
	}

	logger.Info("ONNX Runtime backend ready",
		zap.String("model", modelPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", outputName))
	return &OnnxBackend{session: sess, inputNames: inputNames, maxLength: maxLength, logger: logger, ready: true}
}

// IsReady reports whether the backend is initialized.
func (b *OnnxBackend) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready && b.session != nil
}

// Close releases session and environment resources.
func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	ort.DestroyEnvironment()
	b.ready = false
	return nil
}

// EmbedBatch runs a single inference for the batch and mean-pools the hidden
// states into one embedding per input.
func (b *OnnxBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !b.IsReady() {
		return nil, fmt.Errorf("onnx backend not ready")
	}
	batch := len(texts)
	if batch == 0 {
		return [][]float32{}, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	seqLen := b.maxLength
	inputIDs := make([]int64, 0, batch*seqLen)
	attention := make([]int64, 0, batch*seqLen)
	for _, text := range texts {
		ids := tokenIDs(text, seqLen)
		for i := 0; i < seqLen; i++ {
			if i < len(ids) {
				inputIDs = append(inputIDs, ids[i])
				attention = append(attention, 1)
			} else {
				inputIDs = append(inputIDs, 0)
				attention = append(attention, 0)
			}
		}
	}

	shape := ort.NewShape(int64(batch), int64(seqLen))
	idsTensor, err := ort.NewTensor[int64](shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, attention)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	inputs := make([]ort.Value, 0, len(b.inputNames))
	for _, rawName := range b.inputNames {
		name := strings.ToLower(rawName)
		switch {
		case strings.Contains(name, "mask"):
			inputs = append(inputs, maskTensor)
		default:
			inputs = append(inputs, idsTensor)
		}
	}

	outputs := make([]ort.Value, 1)
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	data := outTensor.GetData()
	outShape := outTensor.GetShape()

	res := make([][]float32, batch)
	switch len(outShape) {
	case 2:
		dims := int(outShape[1])
		if len(data) != batch*dims {
			return nil, fmt.Errorf("unexpected flat data length %d for shape %v", len(data), outShape)
		}
		for i := 0; i < batch; i++ {
			res[i] = append([]float32(nil), data[i*dims:(i+1)*dims]...)
		}
	case 3:
		seq := int(outShape[1])
		dims := int(outShape[2])
		if len(data) != batch*seq*dims {
			return nil, fmt.Errorf("unexpected flat data length %d for shape %v", len(data), outShape)
		}
		for i := 0; i < batch; i++ {
			pooled := make([]float32, dims)
			for s := 0; s < seq; s++ {
				offset := (i*seq + s) * dims
				for d := 0; d < dims; d++ {
					pooled[d] += data[offset+d]
				}
			}
			inv := 1.0 / float32(seq)
			for d := 0; d < dims; d++ {
				pooled[d] *= inv
			}
			res[i] = pooled
		}
	default:
		return nil, fmt.Errorf("unsupported output shape %v", outShape)
	}

	return res, nil
}

// tokenIDs maps whitespace tokens into a fixed vocabulary range by hashing.
func tokenIDs(text string, max int) []int64 {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) > max {
		fields = fields[:max]
	}
	ids := make([]int64, len(fields))
	for i, f := range fields {
		h := fnv.New32a()
		h.Write([]byte(f))
		ids[i] = int64(h.Sum32()%30000) + 1
	}
	return ids
}
