package backend

import "github.com/google/uuid"

// === Compiled Artifacts ===

// FunctionInfo describes the kernel or one reachable function in the final
// artifact.
type FunctionInfo struct {
	Name            string
	Source          string
	LocalMemorySize int
}

// KernelInfo restates what the host runtime needs to launch the kernel:
// the function table and the shared-memory requirements.
type KernelInfo struct {
	Functions         []FunctionInfo
	SharedAllocations []AllocaInfo
	SharedMemory      SharedMemorySpec
	Specialization    KernelSpecialization
}

// CompiledArtifact is the result of one compilation: target text (PTX,
// OpenCL C) or host byte code, plus launch metadata. No partial artifacts
// are ever produced.
type CompiledArtifact struct {
	ID          uuid.UUID
	EntryName   string
	BackendType BackendType
	Source      []byte
	Info        *KernelInfo
}
