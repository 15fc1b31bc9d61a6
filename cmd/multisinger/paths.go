package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	envExportDir = "MULTISINGER_EXPORT_DIR"
	envModelsDir = "MULTISINGER_MODELS_DIR"

	weightsExt = ".safetensors"
)

// stdinIsTTY is a small seam for tests.
var stdinIsTTY = isTTY

// resolveExportOut picks the export destination. Without --output the file
// lands in $MULTISINGER_EXPORT_DIR (or ./out) named after the input weights.
func resolveExportOut(inPath, outFlag string) (string, bool, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag != "" {
		outPath := filepath.Clean(outFlag)
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return "", false, err
		}
		return outPath, false, nil
	}

	base := filepath.Base(filepath.Clean(inPath))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", true, fmt.Errorf("invalid input weights: %q", inPath)
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))

	outDir := strings.TrimSpace(os.Getenv(envExportDir))
	if outDir == "" {
		outDir = filepath.Join(".", "out")
	}

	outPath := filepath.Join(outDir, base+".export"+weightsExt)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", true, err
	}
	return outPath, true, nil
}

func resolveWeightsPath(weightsFlag, modelsPath string, stdin io.Reader, stderr io.Writer) (string, error) {
	weightsFlag = strings.TrimSpace(weightsFlag)
	if weightsFlag != "" {
		return filepath.Clean(weightsFlag), nil
	}

	modelsDir := strings.TrimSpace(modelsPath)
	if modelsDir == "" {
		modelsDir = strings.TrimSpace(os.Getenv(envModelsDir))
	}
	if modelsDir == "" {
		return "", fmt.Errorf("--weights or --models-path is required unless %s is set", envModelsDir)
	}

	found, err := discoverWeights(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("no %s checkpoints found in %s", weightsExt, modelsDir)
	case 1:
		_, _ = fmt.Fprintf(stderr, "using weights %s\n", found[0])
		return found[0], nil
	default:
		if !stdinIsTTY() {
			return "", fmt.Errorf(
				"multiple checkpoints found in %s but stdin is not interactive; set --weights",
				modelsDir,
			)
		}
		return selectWeightsInteractively(modelsDir, found, stdin, stderr)
	}
}

func discoverWeights(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("models directory is empty")
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), weightsExt) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

func selectWeightsInteractively(modelsDir string, paths []string, stdin io.Reader, stderr io.Writer) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("no checkpoints available in %s", modelsDir)
	}

	_, _ = fmt.Fprintf(stderr, "select a checkpoint from %s\n", modelsDir)
	for i, p := range paths {
		_, _ = fmt.Fprintf(stderr, "%d. %s\n", i+1, displayName(modelsDir, p))
	}

	reader := bufio.NewReader(stdin)
	for {
		_, _ = fmt.Fprintf(stderr, "enter selection [1-%d]: ", len(paths))
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if errors.Is(err, io.EOF) {
				return "", errors.New("no selection provided on stdin; set --weights")
			}
			continue
		}

		idx, convErr := strconv.Atoi(line)
		if convErr != nil || idx < 1 || idx > len(paths) {
			_, _ = fmt.Fprintf(stderr, "invalid selection %q\n", line)
			if errors.Is(err, io.EOF) {
				return "", errors.New("invalid selection provided on stdin; set --weights")
			}
			continue
		}
		return paths[idx-1], nil
	}
}

func displayName(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return filepath.Base(path)
	}
	return rel
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
