//go:build windows

package device

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/accel/internal/tensor"
)

// WebGPUName is the registered name of the WebGPU runtime.
const WebGPUName = "webgpu"

// workgroupSize is the number of threads per workgroup in every shader.
const workgroupSize = 256

// maxWorkgroups bounds a single one-dimensional dispatch.
const maxWorkgroups = 65535

func init() {
	Register(WebGPUName, openWebGPU)
}

// binaryShader is instantiated per element type and operator.
const binaryShader = `
@group(0) @binding(0) var<storage, read> a: array<%[1]s>;
@group(0) @binding(1) var<storage, read> b: array<%[1]s>;
@group(0) @binding(2) var<storage, read_write> result: array<%[1]s>;

struct Params {
    size: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        result[idx] = a[idx] %[2]s b[idx];
    }
}
`

var shaderOperators = map[tensor.Op]string{
	tensor.OpAdd: "+",
	tensor.OpSub: "-",
	tensor.OpMul: "*",
	tensor.OpDiv: "/",
}

// WebGPU is a host runtime whose float32 and int32 element-wise arithmetic
// runs as compute shaders. Memory stays in host regions; operands are staged
// through GPU buffers per instruction.
type WebGPU struct {
	*Host

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	mu        sync.Mutex
	pipelines map[string]*wgpu.ComputePipeline
}

func openWebGPU(opts Options) (rt Runtime, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			rt = nil
			err = fmt.Errorf("%w: webgpu: native library not available: %v", ErrBackendUnreachable, r)
		}
	}()

	if opts.LibraryPath != "" {
		if err := addLibraryDir(opts.LibraryPath); err != nil {
			return nil, err
		}
	}

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: request adapter: %w", err)
	}
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: request device: %w", err)
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: no queue")
	}

	g := &WebGPU{
		Host:      NewHost(opts),
		instance:  instance,
		adapter:   adapter,
		device:    device,
		queue:     queue,
		pipelines: make(map[string]*wgpu.ComputePipeline),
	}
	g.Host.name = WebGPUName
	g.Host.accel = g.execute
	return g, nil
}

// addLibraryDir makes the directory holding the native library visible to
// the DLL search path.
func addLibraryDir(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: webgpu library: %w", ErrBackendUnreachable, err)
	}
	dir := filepath.Dir(path)
	return os.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// execute runs ins on the GPU when a shader covers it. Integer division
// stays on the host so division by zero is reported.
func (g *WebGPU) execute(ins Instruction) (bool, error) {
	op, ok := shaderOperators[ins.Op]
	if !ok || ins.N == 0 {
		return false, nil
	}
	var elem string
	switch {
	case ins.DType == tensor.Float32:
		elem = "f32"
	case ins.DType == tensor.Int32 && ins.Op != tensor.OpDiv:
		elem = "i32"
	default:
		return false, nil
	}
	workgroups := (ins.N + workgroupSize - 1) / workgroupSize
	if workgroups > maxWorkgroups {
		return false, nil
	}

	pipeline := g.pipeline(elem+ins.Op.String(), fmt.Sprintf(binaryShader, elem, op))

	//nolint:gosec // G115: N is non-negative
	size := uint64(ins.N * ins.DType.Size())
	bufferA := g.upload(ins.In[0], size, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferA.Release()
	bufferB := g.upload(ins.In[1], size, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferB.Release()

	bufferResult := g.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer bufferResult.Release()

	params := make([]byte, 16) // uniform buffers are 16-byte aligned
	//nolint:gosec // G115: N fits the u32 dispatch bound checked above
	binary.LittleEndian.PutUint32(params[0:4], uint32(ins.N))
	bufferParams := g.upload(unsafe.Pointer(&params[0]), 16, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	defer bufferParams.Release()

	bindGroup := g.device.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufferA, 0, size),
		wgpu.BufferBindingEntry(1, bufferB, 0, size),
		wgpu.BufferBindingEntry(2, bufferResult, 0, size),
		wgpu.BufferBindingEntry(3, bufferParams, 0, 16),
	})
	defer bindGroup.Release()

	encoder := g.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // G115: bounded by maxWorkgroups
	pass.DispatchWorkgroups(uint32(workgroups), 1, 1)
	pass.End()
	g.queue.Submit(encoder.Finish(nil))

	if err := g.download(bufferResult, size, ins.Out); err != nil {
		return true, err
	}
	return true, nil
}

// pipeline returns the cached compute pipeline for name, compiling it on
// first use.
func (g *WebGPU) pipeline(name, code string) *wgpu.ComputePipeline {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.pipelines[name]; ok {
		return p
	}
	shader := g.device.CreateShaderModuleWGSL(code)
	p := g.device.CreateComputePipelineSimple(nil, shader, "main")
	g.pipelines[name] = p
	return p
}

// upload creates a GPU buffer holding size bytes read from src.
func (g *WebGPU) upload(src unsafe.Pointer, size uint64, usage wgpu.BufferUsage) *wgpu.Buffer {
	buffer := g.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice over the mapped range and the caller's region
	copy(unsafe.Slice((*byte)(mapped), size), unsafe.Slice((*byte)(src), size))
	buffer.Unmap()
	return buffer
}

// download copies size bytes of src back to host memory at dst through a
// staging buffer.
func (g *WebGPU) download(src *wgpu.Buffer, size uint64, dst unsafe.Pointer) error {
	staging := g.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := g.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	g.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(g.device, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("webgpu: map staging buffer: %w", err)
	}
	mapped := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice over the mapped range and the caller's region
	copy(unsafe.Slice((*byte)(dst), size), unsafe.Slice((*byte)(mapped), size))
	staging.Unmap()
	return nil
}

// Close implements Runtime.
func (g *WebGPU) Close() error {
	if g.Host.Closed() {
		return nil
	}
	err := g.Host.Close()

	g.mu.Lock()
	defer g.mu.Unlock()
	for name, p := range g.pipelines {
		p.Release()
		delete(g.pipelines, name)
	}
	g.queue.Release()
	g.device.Release()
	g.adapter.Release()
	g.instance.Release()
	return err
}
