package hubcache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Fingerprint files let two implementations be fingerprinted at different
// times (or on different machines) and compared offline. The format is
// indented JSON so the files diff cleanly; a .zst suffix adds zstd
// compression for large caches.

const zstdSuffix = ".zst"

// WriteFingerprintFile writes fp to path as JSON, zstd-compressed when path
// ends in ".zst". The file is written through a temp file and renamed so a
// crash never leaves a truncated fingerprint under the final name.
func WriteFingerprintFile(path string, fp *CacheFingerprint) error {
	if fp == nil {
		return fmt.Errorf("fingerprint is nil")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".fingerprint-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := encodeFingerprint(tmp, path, fp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func encodeFingerprint(w io.Writer, path string, fp *CacheFingerprint) error {
	if strings.HasSuffix(path, zstdSuffix) {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if err := writeFingerprintJSON(zw, fp); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	}
	return writeFingerprintJSON(w, fp)
}

func writeFingerprintJSON(w io.Writer, fp *CacheFingerprint) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(fp)
}

// ReadFingerprintFile reads a fingerprint written by WriteFingerprintFile.
// Decompression is chosen by the ".zst" suffix, mirroring the writer.
func ReadFingerprintFile(path string) (*CacheFingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, zstdSuffix) {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}

	var fp CacheFingerprint
	if err := json.NewDecoder(r).Decode(&fp); err != nil {
		return nil, fmt.Errorf("decode fingerprint %s: %w", path, err)
	}
	return &fp, nil
}
