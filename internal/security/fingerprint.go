package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// DeviceFingerprint represents device identification information
type DeviceFingerprint struct {
	Fingerprint string    `json:"fingerprint"`
	Hostname    string    `json:"hostname"`
	MACAddress  string    `json:"mac_address"`
	CPUID       string    `json:"cpu_id"`
	OS          string    `json:"os"`
	Platform    string    `json:"platform"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintManager handles device fingerprinting operations.
// The fingerprint is stable for a given installation and is used by the
// licensing authority for concurrent-session enforcement.
type FingerprintManager struct {
	cache         *DeviceFingerprint
	cacheMutex    sync.RWMutex
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewFingerprintManager creates a new fingerprint manager with caching
func NewFingerprintManager() *FingerprintManager {
	return &FingerprintManager{
		cacheDuration: 1 * time.Hour,
	}
}

// GetMACAddress retrieves the primary network interface MAC address
func (fm *FingerprintManager) GetMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	// Prefer the first non-loopback, up interface with a MAC address
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}

	// Fallback: any interface with a MAC address
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			slog.Warn("Using fallback MAC address",
				slog.String("interface", iface.Name),
			)
			return mac, nil
		}
	}

	return "", fmt.Errorf("no valid MAC address found")
}

// GetHostname retrieves the normalized machine hostname
func (fm *FingerprintManager) GetHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}

	return hostname, nil
}

// GetCPUID retrieves CPU identification information (OS-specific)
func (fm *FingerprintManager) GetCPUID() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			return shortHash(procID), nil
		}
		return shortHash(fmt.Sprintf("windows-%s-%s", runtime.GOARCH, os.Getenv("PROCESSOR_ARCHITECTURE"))), nil
	case "linux":
		if cpuData, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(cpuData), "\n") {
				if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "cpu family") {
					return shortHash(line), nil
				}
			}
		}
		return shortHash(fmt.Sprintf("linux-%s", runtime.GOARCH)), nil
	case "darwin":
		return shortHash(fmt.Sprintf("darwin-%s-%s", runtime.GOARCH, os.Getenv("HOSTTYPE"))), nil
	default:
		slog.Warn("Using fallback CPU ID for unsupported OS",
			slog.String("os", runtime.GOOS),
		)
		return shortHash(fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)), nil
	}
}

func shortHash(raw string) string {
	hash := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(hash[:8])
}

// GenerateFingerprint creates a device fingerprint by combining hardware factors
func (fm *FingerprintManager) GenerateFingerprint() (*DeviceFingerprint, error) {
	fm.cacheMutex.RLock()
	if fm.cache != nil && time.Now().Before(fm.cacheExpiry) {
		cached := *fm.cache
		fm.cacheMutex.RUnlock()
		return &cached, nil
	}
	fm.cacheMutex.RUnlock()

	macAddr, err := fm.GetMACAddress()
	if err != nil {
		macAddr = "unknown-mac"
		slog.Warn("Failed to get MAC address, using fallback",
			slog.String("error", err.Error()),
		)
	}

	hostname, err := fm.GetHostname()
	if err != nil {
		hostname = "unknown-host"
		slog.Warn("Failed to get hostname, using fallback",
			slog.String("error", err.Error()),
		)
	}

	cpuID, err := fm.GetCPUID()
	if err != nil {
		cpuID = "unknown-cpu"
	}

	factors := []string{
		macAddr,
		hostname,
		cpuID,
		runtime.GOOS,
		runtime.GOARCH,
	}

	hash := sha256.Sum256([]byte(strings.Join(factors, "|")))
	fingerprint := &DeviceFingerprint{
		Fingerprint: hex.EncodeToString(hash[:]),
		Hostname:    hostname,
		MACAddress:  macAddr,
		CPUID:       cpuID,
		OS:          runtime.GOOS,
		Platform:    runtime.GOARCH,
		GeneratedAt: time.Now(),
	}

	fm.cacheMutex.Lock()
	fm.cache = fingerprint
	fm.cacheExpiry = time.Now().Add(fm.cacheDuration)
	fm.cacheMutex.Unlock()

	return fingerprint, nil
}

// ValidateFingerprint compares the current device fingerprint with a stored one
func (fm *FingerprintManager) ValidateFingerprint(storedFingerprint string) (bool, error) {
	current, err := fm.GenerateFingerprint()
	if err != nil {
		return false, fmt.Errorf("failed to generate current fingerprint: %w", err)
	}
	return current.Fingerprint == storedFingerprint, nil
}

// ClearCache clears the cached fingerprint
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()

	fm.cache = nil
	fm.cacheExpiry = time.Time{}
}
