// Command gkc is a developer tool for the kernel compiler core: it builds
// the built-in demo kernels through the IR builder and prints the compiled
// artifact for a chosen backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/backend"
	"j5.nz/gkc/backend/il"
	"j5.nz/gkc/backend/opencl"
	"j5.nz/gkc/backend/ptx"
)

var (
	flagBackend  string
	flagPlatform int
	flagKernel   string
	flagThreads  int
	flagVerbose  bool
)

func main() {
	root := &cobra.Command{
		Use:           "gkc",
		Short:         "GPU kernel compiler developer tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	demo := &cobra.Command{
		Use:   "demo",
		Short: "Compile a built-in demo kernel and print the artifact",
		RunE:  runDemo,
	}
	demo.Flags().StringVar(&flagBackend, "backend", "ptx", "target backend (ptx, opencl, il)")
	demo.Flags().IntVar(&flagPlatform, "platform", 64, "target platform pointer width (32 or 64)")
	demo.Flags().StringVar(&flagKernel, "kernel", "add", "demo kernel (add, reduce)")
	demo.Flags().IntVar(&flagThreads, "max-threads", 0, "max threads per group specialization")
	demo.Flags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
	root.AddCommand(demo)

	root.AddCommand(&cobra.Command{
		Use:   "intrinsics",
		Short: "List the thread intrinsics lowered by the pipeline",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range backend.ThreadIntrinsicNames() {
				fmt.Println(name)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "backends",
		Short: "List the available backend types",
		Run: func(cmd *cobra.Command, args []string) {
			for _, t := range []backend.BackendType{
				backend.BackendIL, backend.BackendPTX,
				backend.BackendOpenCL, backend.BackendVelocity,
			} {
				available := "yes"
				if t == backend.BackendVelocity {
					available = "no"
				}
				fmt.Printf("%-10s available=%s\n", t, available)
			}
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gkc: %v\n", err)
		os.Exit(1)
	}
}

func runDemo(cmd *cobra.Command, args []string) error {
	var target backend.TargetBackend
	switch flagBackend {
	case "ptx":
		target = ptx.New(ptx.Config{})
	case "opencl":
		target = opencl.New(opencl.Config{})
	case "il":
		target = il.New()
	default:
		return fmt.Errorf("unknown backend %q", flagBackend)
	}

	platform := abi.Platform64Bit
	if flagPlatform == 32 {
		platform = abi.Platform32Bit
	}

	ctx, err := buildDemoContext()
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if flagVerbose {
		logger, _ = zap.NewDevelopment()
	}

	b, err := backend.New(backend.Config{
		Platform: platform,
		Frontend: &backend.StaticFrontend{Context: ctx},
		Target:   target,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	artifact, err := b.Compile(
		backend.EntryDescription{Name: flagKernel},
		backend.KernelSpecialization{MaxThreadsPerGroup: flagThreads},
		nil)
	if err != nil {
		return err
	}

	fmt.Printf("// entry: %s, backend: %s, id: %s\n",
		artifact.EntryName, artifact.BackendType, artifact.ID)
	fmt.Printf("// shared memory: %d byte(s), dynamic: %v\n\n",
		artifact.Info.SharedMemory.StaticSize, artifact.Info.SharedMemory.HasDynamic)
	os.Stdout.Write(artifact.Source)
	return nil
}
