// Package framemap renders the physical frame ownership map of a booted
// kernel as an image. Every frame of RAM is drawn as a small square colored
// after its owner; a legend with per-owner frame counts and the allocator
// statistics is drawn below the grid.
package framemap

import (
	"fmt"
	"gopherv/kernel/kmain"
	"gopherv/kernel/mm/pmm"
	"image"
	"image/color"
	"io"

	"github.com/fogleman/gg"
)

const (
	// FramesPerRow is the number of frames drawn on each row of the grid.
	FramesPerRow = 64

	// CellSize is the side in pixels of the square drawn for each frame.
	CellSize = 8

	margin     = 8
	lineHeight = 16
)

// Palette maps each owner to the color used to draw its frames.
var Palette = [kmain.NumFrameOwners]color.RGBA{
	kmain.OwnerFree:            {R: 0x30, G: 0x30, B: 0x30, A: 0xff},
	kmain.OwnerFirmware:        {R: 0x80, G: 0x80, B: 0x80, A: 0xff},
	kmain.OwnerKernelImage:     {R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	kmain.OwnerKernelPageTable: {R: 0x9e, G: 0xda, B: 0xe5, A: 0xff},
	kmain.OwnerKernelStack:     {R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	kmain.OwnerUserPageTable:   {R: 0xff, G: 0xbb, B: 0x78, A: 0xff},
	kmain.OwnerUserMemory:      {R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	kmain.OwnerTrapContext:     {R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
}

// Render draws the frame map for owners and returns the resulting image.
func Render(owners []kmain.FrameOwner, stats pmm.Stats) image.Image {
	var (
		rows    = (len(owners) + FramesPerRow - 1) / FramesPerRow
		gridW   = FramesPerRow * CellSize
		gridH   = rows * CellSize
		legendH = (int(kmain.NumFrameOwners) + 1) * lineHeight
		dc      = gg.NewContext(gridW+2*margin, gridH+legendH+3*margin)
		counts  [kmain.NumFrameOwners]int
	)

	dc.SetRGB(1, 1, 1)
	dc.Clear()

	for index, owner := range owners {
		if owner >= kmain.NumFrameOwners {
			owner = kmain.OwnerFree
		}
		counts[owner]++

		x := float64(margin + (index%FramesPerRow)*CellSize)
		y := float64(margin + (index/FramesPerRow)*CellSize)
		dc.SetColor(Palette[owner])
		dc.DrawRectangle(x, y, CellSize-1, CellSize-1)
		dc.Fill()
	}

	y := float64(gridH + 2*margin)
	for owner := kmain.FrameOwner(0); owner < kmain.NumFrameOwners; owner++ {
		dc.SetColor(Palette[owner])
		dc.DrawRectangle(margin, y, CellSize, CellSize)
		dc.Fill()

		dc.SetRGB(0, 0, 0)
		dc.DrawString(fmt.Sprintf("%-18s %d", owner.String(), counts[owner]), margin+2*CellSize, y+CellSize)
		y += lineHeight
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawString(
		fmt.Sprintf("allocator: %d frames, %d allocated, %d recycled", stats.Total, stats.Allocated, stats.Recycled),
		margin, y+CellSize,
	)

	return dc.Image()
}

// Encode renders the frame map and writes it to w as a PNG image.
func Encode(w io.Writer, owners []kmain.FrameOwner, stats pmm.Stats) error {
	return gg.NewContextForImage(Render(owners, stats)).EncodePNG(w)
}
