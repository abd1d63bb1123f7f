// Package platform reports what the gateway is running on. It is injected into
// the service layer as a capability so tests can substitute a fixed answer.
package platform

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/host"
)

// Provider reports a human-readable platform version such as "ubuntu 22.04"
type Provider interface {
	Version(ctx context.Context) (string, error)
}

type hostInfoFunc func(ctx context.Context) (*host.InfoStat, error)

// HostProvider reads the host operating system through gopsutil. The first
// successful answer is reused.
type HostProvider struct {
	info hostInfoFunc

	mu      sync.Mutex
	version string
}

// NewHostProvider creates a provider backed by the running host
func NewHostProvider() *HostProvider {
	return &HostProvider{info: host.InfoWithContext}
}

func (p *HostProvider) Version(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.version != "" {
		return p.version, nil
	}

	info, err := p.info(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read host info: %w", err)
	}

	p.version = formatVersion(info)
	return p.version, nil
}

func formatVersion(info *host.InfoStat) string {
	name := strings.TrimSpace(info.Platform)
	version := strings.TrimSpace(info.PlatformVersion)
	if name == "" {
		name = strings.TrimSpace(info.OS)
		version = strings.TrimSpace(info.KernelVersion)
	}
	if name == "" {
		name = runtime.GOOS
	}

	if version == "" {
		return name
	}
	return name + " " + version
}

// Static always reports the same version
type Static string

func (s Static) Version(context.Context) (string, error) {
	return string(s), nil
}
