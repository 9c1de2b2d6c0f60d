package client

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FingerprintSource yields the device fingerprint echoed on login and every refresh.
type FingerprintSource interface {
	Fingerprint() (string, error)
}

// StaticFingerprint always returns itself.
type StaticFingerprint string

func (f StaticFingerprint) Fingerprint() (string, error) {
	return string(f), nil
}

// DeviceFingerprint derives a fingerprint from host characteristics. It is computed
// once per process and reused for every call.
type DeviceFingerprint struct {
	once  sync.Once
	value string
	err   error
}

func (d *DeviceFingerprint) Fingerprint() (string, error) {
	d.once.Do(func() {
		d.value, d.err = deviceFingerprint()
	})
	return d.value, d.err
}

func deviceFingerprint() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", err
	}

	parts := []string{
		host,
		runtime.GOOS,
		runtime.GOARCH,
		strconv.Itoa(runtime.NumCPU()),
		time.Local.String(),
	}
	if u, err := user.Current(); err == nil {
		parts = append(parts, u.Username, u.HomeDir)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), nil
}
