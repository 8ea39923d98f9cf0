package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// Files expected in an embedding bundle directory.
const (
	ModelConfigFile     = "config.json"
	TokenizerFile       = "tokenizer.json"
	TokenizerConfigFile = "tokenizer_config.json"
	WeightsFile         = "model.onnx"
)

type modelConfig struct {
	HiddenSize int `json:"hidden_size"`
}

type tokenizerConfig struct {
	ModelMaxLength float64 `json:"model_max_length"`
	DoLowerCase    bool    `json:"do_lower_case"`
}

type ONNXOptions struct {
	// LibraryPath points at libonnxruntime.so. Empty uses the loader default.
	LibraryPath string
	Threads     int
	// MaxLength caps the token sequence; 0 uses model_max_length.
	MaxLength int
}

// ONNX runs a local sentence-transformer exported to ONNX. Token vectors are
// mean pooled over the attention mask and normalised.
type ONNX struct {
	mu      sync.Mutex
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession

	id        string
	dim       int
	maxLen    int
	lower     bool
	typeIDs   bool
	inputs    []string
	outputKey string
}

var ortInit sync.Mutex

// NewONNX loads the bundle in dir. Missing files are reported with the path.
func NewONNX(dir string, opt ONNXOptions) (*ONNX, error) {
	for _, name := range []string{ModelConfigFile, TokenizerFile, TokenizerConfigFile, WeightsFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("embedding bundle: %w", err)
		}
	}

	var mc modelConfig
	if err := readJSON(filepath.Join(dir, ModelConfigFile), &mc); err != nil {
		return nil, err
	}
	if mc.HiddenSize <= 0 {
		return nil, fmt.Errorf("embedding bundle: %s has no hidden_size", ModelConfigFile)
	}

	var tc tokenizerConfig
	if err := readJSON(filepath.Join(dir, TokenizerConfigFile), &tc); err != nil {
		return nil, err
	}

	maxLen := opt.MaxLength
	if maxLen <= 0 && tc.ModelMaxLength > 0 && tc.ModelMaxLength <= 8192 {
		maxLen = int(tc.ModelMaxLength)
	}
	// some configs carry a sentinel like 1e30
	if maxLen <= 0 {
		maxLen = 512
	}

	tk, err := pretrained.FromFile(filepath.Join(dir, TokenizerFile))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	if err := initRuntime(opt.LibraryPath); err != nil {
		return nil, err
	}

	weights := filepath.Join(dir, WeightsFile)
	ins, outs, err := ort.GetInputOutputInfo(weights)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", WeightsFile, err)
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("%s has no outputs", WeightsFile)
	}

	e := &ONNX{
		tk:        tk,
		id:        filepath.Base(filepath.Clean(dir)),
		dim:       mc.HiddenSize,
		maxLen:    maxLen,
		lower:     tc.DoLowerCase,
		inputs:    []string{"input_ids", "attention_mask"},
		outputKey: outs[0].Name,
	}
	if slices.ContainsFunc(ins, func(i ort.InputOutputInfo) bool { return i.Name == "token_type_ids" }) {
		e.typeIDs = true
		e.inputs = append(e.inputs, "token_type_ids")
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer so.Destroy()

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := so.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}

	e.session, err = ort.NewDynamicAdvancedSession(weights, e.inputs, []string{e.outputKey}, so)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", WeightsFile, err)
	}

	return e, nil
}

func initRuntime(lib string) error {
	ortInit.Lock()
	defer ortInit.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnxruntime init: %w", err)
	}
	return nil
}

func (e *ONNX) Dimensions() int { return e.dim }

func (e *ONNX) ModelID() string { return e.id }

func (e *ONNX) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if e.lower {
		text = strings.ToLower(text)
	}
	en, err := e.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	ids := toInt64(en.GetIds(), e.maxLen)
	mask := toInt64(en.GetAttentionMask(), e.maxLen)
	if len(ids) == 0 {
		return nil, errors.New("tokenizer produced no tokens")
	}
	n := int64(len(ids))
	shape := ort.NewShape(1, n)

	idsT, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, err
	}
	defer idsT.Destroy()

	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, err
	}
	defer maskT.Destroy()

	inputs := []ort.Value{idsT, maskT}
	if e.typeIDs {
		types := toInt64(en.GetTypeIds(), e.maxLen)
		if len(types) != len(ids) {
			types = make([]int64, len(ids))
		}
		typesT, err := ort.NewTensor(shape, types)
		if err != nil {
			return nil, err
		}
		defer typesT.Destroy()
		inputs = append(inputs, typesT)
	}

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, n, int64(e.dim)))
	if err != nil {
		return nil, err
	}
	defer out.Destroy()

	e.mu.Lock()
	err = e.session.Run(inputs, []ort.Value{out})
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	return Normalize(meanPool(out.GetData(), mask, e.dim)), nil
}

func (e *ONNX) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *ONNX) Close() error {
	if e.session == nil {
		return nil
	}
	return e.session.Destroy()
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func toInt64(in []int, limit int) []int64 {
	if len(in) > limit {
		in = in[:limit]
	}
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
