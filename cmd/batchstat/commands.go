package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/Faultbox/worldview/internal/config"
	"github.com/Faultbox/worldview/internal/engine/camera"
	"github.com/Faultbox/worldview/internal/engine/renderer"
	"github.com/Faultbox/worldview/internal/engine/scene"
	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/internal/gpu/soft"
	"github.com/Faultbox/worldview/internal/logger"
	"github.com/Faultbox/worldview/internal/stage"
)

func setupLogging(ctx *cli.Context) error {
	level := "warn"
	if ctx.GlobalBool("v") {
		level = "debug"
	}
	return logger.Init(level, "")
}

func cmdCheck(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("usage: batchstat check <scene.yaml>")
	}
	path := ctx.Args().First()
	desc, err := scene.LoadDescription(path)
	if err != nil {
		return err
	}

	items := 0
	for _, g := range desc.Groups {
		items += g.Count
	}
	for _, p := range desc.Particles {
		items += p.Emitters
	}
	fmt.Fprintf(ctx.App.Writer, "%s: ok (%d textures, %d groups, %d particle sets, %d items)\n",
		path, len(desc.Textures), len(desc.Groups), len(desc.Particles), items)
	return nil
}

func cmdStats(ctx *cli.Context) error {
	if err := setupLogging(ctx); err != nil {
		return err
	}
	defer logger.Sync()

	cfg := config.Default()
	cfg.Render.Backend = "soft"
	cfg.Render.RayQuery = ctx.Bool("ray-query")
	if n := ctx.Int("capacity"); n > 0 {
		cfg.Render.BucketCapacity = n
	}
	if n := ctx.Int("in-flight"); n > 0 {
		cfg.Render.FramesInFlight = n
	}
	if ctx.NArg() > 0 {
		cfg.Scene.File = ctx.Args().First()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	desc, err := stage.LoadScene(cfg)
	if err != nil {
		return err
	}

	dev := soft.New(soft.WithRayQuery(true), soft.WithLogger(logger.Named("soft")))
	s, err := stage.New(dev, cfg, desc)
	if err != nil {
		return err
	}
	defer s.Release()

	cam := camera.NewOrbitCamera(float32(cfg.Graphics.Width) / float32(cfg.Graphics.Height))
	cam.FitToBounds(s.World.Bounds())
	view := renderer.View{
		ViewProj: cam.ViewProj(),
		Eye:      cam.Position(),
		Focus:    cam.Center,
		Width:    cfg.Graphics.Width,
		Height:   cfg.Graphics.Height,
	}
	for i := 0; i < ctx.Int("frames"); i++ {
		if err := s.Frame(view, float32(i)/60); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}

	printStats(ctx, s, dev)
	return nil
}

func printStats(ctx *cli.Context, s *stage.Stage, dev *soft.Device) {
	out := ctx.App.Writer
	ws := s.World.Stats()
	rs := s.Renderer.Stats()

	fmt.Fprintf(out, "World:    %d items (%d movers, %d dancers, %d emitters), %d skipped\n",
		ws.Items, ws.Movers, ws.Dancers, ws.Emitters, ws.Skipped)
	fmt.Fprintf(out, "Frames:   %d rendered, %d TLAS builds\n", rs.Frames, rs.TlasBuilds)
	fmt.Fprintf(out, "Buckets:  %d in draw order, first %d solid\n", rs.Buckets, rs.SolidPrefix)
	fmt.Fprintf(out, "Visible:  %d of %d items in the main view\n", rs.Visible, rs.Items)
	fmt.Fprintf(out, "Device:   %d buffers, %d textures, %d sets, %d BLAS, %d TLAS, %d live\n\n",
		dev.Counters.Buffers, dev.Counters.Textures, dev.Counters.Sets,
		dev.Counters.Blas, dev.Counters.Tlas, dev.Live())

	table := tablewriter.NewWriter(out)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"#", "Kind", "Alpha", "Size", "Capacity", "BLAS", "Visible"})
	size, visible := 0, 0
	for i, b := range s.Objects.Index() {
		st := b.Stats()
		size += st.Size
		visible += st.Visible
		table.Append([]string{
			strconv.Itoa(i), st.Kind.String(), st.Alpha.String(),
			strconv.Itoa(st.Size), strconv.Itoa(st.Capacity),
			strconv.Itoa(st.Blas), strconv.Itoa(st.Visible),
		})
	}
	table.SetFooter([]string{"", "", "Total", strconv.Itoa(size), "", "", strconv.Itoa(visible)})
	table.Render()

	if rs.Frames == 0 {
		return
	}
	n := s.Globals.FramesInFlight()
	slot := uint8((int(s.Renderer.Slot()) + n - 1) % n)
	last := dev.Submitted(slot)
	if last == nil {
		return
	}
	fmt.Fprintf(out, "\nLast frame (slot %d): %d commands\n", slot, len(last.Commands))
	passes := tablewriter.NewWriter(out)
	passes.SetAutoFormatHeaders(false)
	passes.SetHeader([]string{"Pass", "Draws", "Instances"})
	for _, pass := range []gpu.Pass{gpu.PassShadow, gpu.PassHiZ, gpu.PassGBuffer, gpu.PassForward} {
		passes.Append([]string{
			pass.String(), strconv.Itoa(len(last.Draws(pass))), strconv.Itoa(last.InstanceCount(pass)),
		})
	}
	passes.Render()
}
