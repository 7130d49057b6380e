package docker

import (
	"encoding/json"
	"slices"

	units "github.com/docker/go-units"

	"github.com/ryanmoran/dockerrun/internal"
)

// CapMknod is dropped from every container regardless of policy.
const CapMknod = "MKNOD"

// Policy is the fixed sandboxing policy applied to every execution.
type Policy struct {
	Hostname string
	User     string
	Memory   int64
	CapAdd   []string
	CapDrop  []string
	Ulimits  []units.Ulimit
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Hostname: "glot-runner",
		User:     "glot",
		Memory:   500000000,
		CapAdd:   []string{},
		CapDrop:  []string{CapMknod},
		Ulimits: []units.Ulimit{
			{Name: "nofile", Soft: 90, Hard: 100},
			{Name: "nproc", Soft: 90, Hard: 100},
		},
	}
}

// ContainerSpec describes a container to create. Stdio is always attached
// without a TTY and networking is always disabled.
type ContainerSpec struct {
	Hostname   string
	User       string
	Image      string
	HostLimits HostLimits
}

// HostLimits is the resource and privilege part of a ContainerSpec.
type HostLimits struct {
	Memory  int64
	CapAdd  []string
	CapDrop []string
	Ulimits []units.Ulimit
}

// NewContainerSpec builds the spec for one execution of image under policy.
// MKNOD is added to the dropped capabilities if the policy omitted it, and
// added capabilities that would grant it back (MKNOD or ALL) are removed.
func NewContainerSpec(policy Policy, image internal.ImageName) ContainerSpec {
	capDrop := slices.Clone(policy.CapDrop)
	if !slices.Contains(capDrop, CapMknod) {
		capDrop = append(capDrop, CapMknod)
	}

	capAdd := slices.DeleteFunc(slices.Clone(policy.CapAdd), internal.GrantsMknod)
	if capAdd == nil {
		capAdd = []string{}
	}

	ulimits := slices.Clone(policy.Ulimits)
	if ulimits == nil {
		ulimits = []units.Ulimit{}
	}

	return ContainerSpec{
		Hostname: policy.Hostname,
		User:     policy.User,
		Image:    string(image),
		HostLimits: HostLimits{
			Memory:  policy.Memory,
			CapAdd:  capAdd,
			CapDrop: capDrop,
			Ulimits: ulimits,
		},
	}
}

// containerConfigJSON is the engine's wire shape for POST /containers/create.
type containerConfigJSON struct {
	Hostname        string         `json:"Hostname"`
	User            string         `json:"User"`
	AttachStdin     bool           `json:"AttachStdin"`
	AttachStdout    bool           `json:"AttachStdout"`
	AttachStderr    bool           `json:"AttachStderr"`
	Tty             bool           `json:"Tty"`
	OpenStdin       bool           `json:"OpenStdin"`
	StdinOnce       bool           `json:"StdinOnce"`
	Image           string         `json:"Image"`
	NetworkDisabled bool           `json:"NetworkDisabled"`
	HostConfig      hostConfigJSON `json:"HostConfig"`
}

type hostConfigJSON struct {
	Memory     int64          `json:"Memory"`
	Privileged bool           `json:"Privileged"`
	CapAdd     []string       `json:"CapAdd"`
	CapDrop    []string       `json:"CapDrop"`
	Ulimits    []units.Ulimit `json:"Ulimits"`
}

// MarshalJSON encodes the spec in the engine's PascalCase shape with the
// sandbox flags forced on.
func (s ContainerSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(containerConfigJSON{
		Hostname:        s.Hostname,
		User:            s.User,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		Tty:             false,
		OpenStdin:       true,
		StdinOnce:       true,
		Image:           s.Image,
		NetworkDisabled: true,
		HostConfig: hostConfigJSON{
			Memory:     s.HostLimits.Memory,
			Privileged: false,
			CapAdd:     s.HostLimits.CapAdd,
			CapDrop:    s.HostLimits.CapDrop,
			Ulimits:    s.HostLimits.Ulimits,
		},
	})
}

// UnmarshalJSON decodes the engine shape back into a spec. The fixed
// sandbox flags carry no information and are ignored.
func (s *ContainerSpec) UnmarshalJSON(data []byte) error {
	var raw containerConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = ContainerSpec{
		Hostname: raw.Hostname,
		User:     raw.User,
		Image:    raw.Image,
		HostLimits: HostLimits{
			Memory:  raw.HostConfig.Memory,
			CapAdd:  raw.HostConfig.CapAdd,
			CapDrop: raw.HostConfig.CapDrop,
			Ulimits: raw.HostConfig.Ulimits,
		},
	}
	return nil
}

// ContainerHandle identifies a created container.
type ContainerHandle struct {
	ID       string
	Warnings []string
}

// EngineVersion is the subset of GET /version the service reports.
type EngineVersion struct {
	Version       string `json:"Version"`
	APIVersion    string `json:"ApiVersion"`
	KernelVersion string `json:"KernelVersion"`
}
