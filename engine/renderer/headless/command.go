package headless

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type Op string

const (
	OpBeginRenderPass Op = "BeginRenderPass"
	OpEndRenderPass   Op = "EndRenderPass"
	OpSetViewport     Op = "SetViewport"
	OpBindPipeline    Op = "BindPipeline"
	OpBindSet         Op = "BindDescriptorSet"
	OpPushConstants   Op = "PushConstants"
	OpBindVertex      Op = "BindVertexBuffers"
	OpBindIndex       Op = "BindIndexBuffer"
	OpDraw            Op = "Draw"
	OpDrawIndexed     Op = "DrawIndexed"
	OpDispatch        Op = "Dispatch"
	OpTransition      Op = "Transition"
	OpBarrier         Op = "Barrier"
	OpBlit            Op = "Blit"
	OpCopyBuffer      Op = "CopyBuffer"
	OpCopyToImage     Op = "CopyBufferToImage"
	OpResetQueries    Op = "ResetQueries"
	OpWriteTimestamp  Op = "WriteTimestamp"
	OpBuildAccel      Op = "BuildAccelerationStructures"
	OpBeginLabel      Op = "BeginLabel"
	OpEndLabel        Op = "EndLabel"
)

// Command is one recorded command. Only the fields relevant to Op are set.
type Command struct {
	Op Op
	// Label is the render pass or debug label name.
	Label string
	// Pipeline is the name of the bound pipeline at the time of recording.
	Pipeline string

	Pass        *gpu.RenderPassDesc
	Viewport    gpu.Viewport
	Set         gpu.DescriptorSet
	PushData    []byte
	Buffers     []gpu.Buffer
	Transitions []gpu.Transition
	Barrier     gpu.MemoryBarrier
	Blit        gpu.Blit
	Copy        gpu.BufferCopy
	ImageCopy   gpu.BufferImageCopy
	Pool        gpu.QueryPool
	Query       uint32
	QueryCount  uint32
	Accel       []gpu.AccelBuildInfo

	VertexCount   uint32
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	Groups        [3]uint32
}

type CommandBuffer struct {
	device    *Device
	recording bool
	pipeline  string
	kind      gpu.PipelineKind
	inPass    bool
	commands  []Command
}

func (c *CommandBuffer) Begin() error {
	if c.recording {
		return fmt.Errorf("command buffer already recording")
	}
	c.recording = true
	c.commands = c.commands[:0]
	c.pipeline = ""
	c.inPass = false
	return nil
}

func (c *CommandBuffer) End() error {
	if !c.recording {
		return fmt.Errorf("command buffer not recording")
	}
	c.recording = false
	return nil
}

func (c *CommandBuffer) Reset() error {
	c.recording = false
	c.commands = nil
	c.pipeline = ""
	c.inPass = false
	return nil
}

func (c *CommandBuffer) Destroy() { c.commands = nil }

// Commands returns what has been recorded since the last Begin.
func (c *CommandBuffer) Commands() []Command {
	return append([]Command(nil), c.commands...)
}

func (c *CommandBuffer) record(cmd Command) {
	cmd.Pipeline = c.pipeline
	c.commands = append(c.commands, cmd)
}

// violation logs and counts a command recorded in the wrong state.
func (c *CommandBuffer) violation(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	core.LogError("invalid command: %s", msg)
	c.device.violations.Add(1)
}

func (c *CommandBuffer) BeginRenderPass(desc gpu.RenderPassDesc) {
	if c.inPass {
		c.violation("render pass %q begun inside another pass", desc.Name)
	}
	c.inPass = true
	c.record(Command{Op: OpBeginRenderPass, Label: desc.Name, Pass: &desc})
}

func (c *CommandBuffer) EndRenderPass() {
	if !c.inPass {
		c.violation("end of render pass without begin")
	}
	c.inPass = false
	c.record(Command{Op: OpEndRenderPass})
}

func (c *CommandBuffer) SetViewport(vp gpu.Viewport) {
	c.record(Command{Op: OpSetViewport, Viewport: vp})
}

func (c *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	c.pipeline = p.Name()
	c.kind = p.Kind()
	c.record(Command{Op: OpBindPipeline})
}

func (c *CommandBuffer) BindDescriptorSet(ds gpu.DescriptorSet) {
	c.record(Command{Op: OpBindSet, Set: ds})
}

func (c *CommandBuffer) PushConstants(p gpu.Pipeline, data []byte) {
	c.record(Command{Op: OpPushConstants, PushData: append([]byte(nil), data...)})
}

func (c *CommandBuffer) BindVertexBuffers(first uint32, bufs []gpu.Buffer, offsets []uint64) {
	c.record(Command{Op: OpBindVertex, Buffers: append([]gpu.Buffer(nil), bufs...)})
}

func (c *CommandBuffer) BindIndexBuffer(buf gpu.Buffer, offset uint64) {
	c.record(Command{Op: OpBindIndex, Buffers: []gpu.Buffer{buf}})
}

func (c *CommandBuffer) checkDraw() {
	if !c.inPass {
		c.violation("draw outside a render pass (pipeline %q)", c.pipeline)
	} else if c.pipeline == "" || c.kind != gpu.PipelineGraphics {
		c.violation("draw without a graphics pipeline (pipeline %q)", c.pipeline)
	}
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.checkDraw()
	c.record(Command{Op: OpDraw, VertexCount: vertexCount, InstanceCount: instanceCount})
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.checkDraw()
	c.record(Command{Op: OpDrawIndexed, IndexCount: indexCount, InstanceCount: instanceCount, FirstIndex: firstIndex})
}

func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	if c.inPass {
		c.violation("dispatch inside a render pass (pipeline %q)", c.pipeline)
	} else if c.pipeline == "" || c.kind != gpu.PipelineCompute {
		c.violation("dispatch without a compute pipeline (pipeline %q)", c.pipeline)
	}
	c.record(Command{Op: OpDispatch, Groups: [3]uint32{x, y, z}})
}

func (c *CommandBuffer) Transition(ts ...gpu.Transition) {
	c.record(Command{Op: OpTransition, Transitions: append([]gpu.Transition(nil), ts...)})
}

func (c *CommandBuffer) Barrier(mb gpu.MemoryBarrier) {
	c.record(Command{Op: OpBarrier, Barrier: mb})
}

func (c *CommandBuffer) Blit(b gpu.Blit) { c.record(Command{Op: OpBlit, Blit: b}) }

func (c *CommandBuffer) CopyBuffer(cp gpu.BufferCopy) { c.record(Command{Op: OpCopyBuffer, Copy: cp}) }

func (c *CommandBuffer) CopyBufferToImage(cp gpu.BufferImageCopy) {
	c.record(Command{Op: OpCopyToImage, ImageCopy: cp})
}

func (c *CommandBuffer) ResetQueries(pool gpu.QueryPool, first, count uint32) {
	c.record(Command{Op: OpResetQueries, Pool: pool, Query: first, QueryCount: count})
}

func (c *CommandBuffer) WriteTimestamp(pool gpu.QueryPool, query uint32, stage gpu.Stage) {
	c.record(Command{Op: OpWriteTimestamp, Pool: pool, Query: query})
}

func (c *CommandBuffer) BuildAccelerationStructures(infos ...gpu.AccelBuildInfo) {
	c.record(Command{Op: OpBuildAccel, Accel: append([]gpu.AccelBuildInfo(nil), infos...)})
}

func (c *CommandBuffer) BeginLabel(name string, color [4]float32) {
	c.record(Command{Op: OpBeginLabel, Label: name})
}

func (c *CommandBuffer) EndLabel() { c.record(Command{Op: OpEndLabel}) }

// execute replays the side effects of cmd. Callers hold d.mu.
func (d *Device) execute(cmd Command) error {
	switch cmd.Op {
	case OpCopyBuffer:
		src, dst := cmd.Copy.Src.(*Buffer), cmd.Copy.Dst.(*Buffer)
		if cmd.Copy.SrcOffset+cmd.Copy.Size > uint64(len(src.data)) || cmd.Copy.DstOffset+cmd.Copy.Size > uint64(len(dst.data)) {
			return fmt.Errorf("buffer copy of %d bytes out of range", cmd.Copy.Size)
		}
		copy(dst.data[cmd.Copy.DstOffset:], src.data[cmd.Copy.SrcOffset:cmd.Copy.SrcOffset+cmd.Copy.Size])
	case OpResetQueries:
		pool := cmd.Pool.(*QueryPool)
		for i := cmd.Query; i < cmd.Query+cmd.QueryCount && int(i) < len(pool.written); i++ {
			pool.written[i] = false
		}
	case OpWriteTimestamp:
		pool := cmd.Pool.(*QueryPool)
		if int(cmd.Query) >= len(pool.values) {
			return fmt.Errorf("timestamp query %d out of range", cmd.Query)
		}
		d.clock += ticksPerQuery
		pool.values[cmd.Query] = d.clock
		pool.written[cmd.Query] = true
	case OpBuildAccel:
		for _, info := range cmd.Accel {
			if err := d.build(info); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Device) build(info gpu.AccelBuildInfo) error {
	if info.Dst == nil {
		return fmt.Errorf("%s build without destination", info.Kind)
	}
	dst := info.Dst.(*AccelerationStructure)
	if dst.kind != info.Kind {
		return fmt.Errorf("%s build into %s structure", info.Kind, dst.kind)
	}
	if info.Scratch == nil {
		return fmt.Errorf("%s build without scratch buffer", info.Kind)
	}

	if info.Mode == gpu.AccelUpdate {
		if info.Src == nil || !info.Src.(*AccelerationStructure).built {
			return fmt.Errorf("%s update of unbuilt structure", info.Kind)
		}
		if !info.Src.(*AccelerationStructure).updatable {
			return fmt.Errorf("%s update of a structure built without AllowUpdate", info.Kind)
		}
	}

	switch info.Kind {
	case gpu.BottomLevel:
		var prims uint32
		for _, tri := range info.Triangles {
			if tri.VertexAddress == 0 || tri.IndexAddress == 0 {
				return fmt.Errorf("%w: bottom-level geometry", core.ErrMissingAddress)
			}
			prims += tri.IndexCount / 3
		}
		dst.primitives = prims
	case gpu.TopLevel:
		instances, err := d.readInstances(info.Instances)
		if err != nil {
			return err
		}
		for i, in := range instances {
			if in.AccelAddress == 0 {
				return fmt.Errorf("%w: instance %d", core.ErrUnpatchedInstance, i)
			}
			blas, ok := d.accels[in.AccelAddress]
			if !ok || blas.kind != gpu.BottomLevel {
				return fmt.Errorf("%w: instance %d references 0x%x", core.ErrMissingAddress, i, in.AccelAddress)
			}
			if !blas.built {
				return fmt.Errorf("instance %d references a bottom-level structure that is not built", i)
			}
		}
		if info.Mode == gpu.AccelUpdate && len(instances) != len(info.Src.(*AccelerationStructure).instances) {
			return fmt.Errorf("top-level update changes instance count from %d to %d", len(info.Src.(*AccelerationStructure).instances), len(instances))
		}
		dst.instances = instances
	}
	if info.Mode == gpu.AccelUpdate {
		dst.updates++
	}
	dst.built = true
	dst.updatable = info.AllowUpdate
	return nil
}

func (d *Device) readInstances(in gpu.InstanceInput) ([]gpu.Instance, error) {
	if in.Count == 0 {
		return nil, nil
	}
	if in.Buffer == nil {
		return nil, fmt.Errorf("%w: instance buffer", core.ErrMissingAddress)
	}
	buf := in.Buffer.(*Buffer)
	if in.Address < buf.address {
		return nil, fmt.Errorf("%w: instance address 0x%x outside its buffer", core.ErrMissingAddress, in.Address)
	}
	offset := in.Address - buf.address
	end := offset + uint64(in.Count)*gpu.InstanceSize
	if end > uint64(len(buf.data)) {
		return nil, fmt.Errorf("instance array of %d records overflows buffer %q", in.Count, buf.spec.Name)
	}
	out := make([]gpu.Instance, in.Count)
	for i := range out {
		start := offset + uint64(i)*gpu.InstanceSize
		out[i] = gpu.DecodeInstance(buf.data[start : start+gpu.InstanceSize])
	}
	return out, nil
}
