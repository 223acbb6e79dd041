package main

import (
	"fmt"
	"io/fs"
	"os"

	iso "github.com/bgrewell/isoforge"
	"github.com/bgrewell/isoforge/pkg/version"
	"github.com/bgrewell/usage"
)

// DisplayISOInfo prints general information about an opened ISO image.
func DisplayISOInfo(img iso.Image, verbose bool) error {
	entries, err := img.GetAllEntries()
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	fileCount, dirCount, symlinkCount, rrEntries := 0, 0, 0, 0
	totalSize := uint64(0)
	for _, entry := range entries {
		if entry.IsDir() {
			dirCount++
		} else {
			fileCount++
			totalSize += uint64(entry.Size())
		}
		if entry.HasRockRidge() {
			rrEntries++
		}
		if entry.Mode()&fs.ModeSymlink != 0 {
			symlinkCount++
		}
	}

	fmt.Println("=== ISO Information ===")
	if img9660, ok := img.(*iso.ISO9660Image); ok && img9660.PrimaryVolumeDescriptor != nil {
		pvd := img9660.PrimaryVolumeDescriptor
		if pvd.VolumeIdentifier != "" {
			fmt.Printf("Volume Name: %s\n", pvd.VolumeIdentifier)
		}
		if pvd.ApplicationIdentifier != "" {
			fmt.Printf("Created By: %s\n", pvd.ApplicationIdentifier)
		}
		if pvd.DataPreparerIdentifier != "" {
			fmt.Printf("Preparer: %s\n", pvd.DataPreparerIdentifier)
		}
		if pvd.PublisherIdentifier != "" {
			fmt.Printf("Publisher: %s\n", pvd.PublisherIdentifier)
		}
		fmt.Printf("Volume Size: %d sectors\n", pvd.VolumeSpaceSize)
	}
	fmt.Printf("Total Files: %d\n", fileCount)
	fmt.Printf("Total Directories: %d\n", dirCount)
	fmt.Printf("Total Size: %d bytes (%.2f MB)\n", totalSize, float64(totalSize)/1024/1024)

	if verbose {
		fmt.Println("\n=== Verbose Information ===")
		if img9660, ok := img.(*iso.ISO9660Image); ok && img9660.PrimaryVolumeDescriptor != nil {
			pvd := img9660.PrimaryVolumeDescriptor
			fmt.Printf("System Identifier: %s\n", pvd.SystemIdentifier)
			fmt.Printf("Volume Set Size: %d\n", pvd.VolumeSetSize)
			fmt.Printf("Volume Sequence Number: %d\n", pvd.VolumeSequenceNumber)
			fmt.Printf("Logical Block Size: %d bytes\n", pvd.LogicalBlockSize)
			fmt.Printf("Supplementary Descriptors: %d\n", len(img9660.SupplementaryVolumeDescriptors))
		}
		fmt.Printf("Symbolic Links: %d\n", symlinkCount)

		if img.HasRockRidge() {
			fmt.Println("\n--- Rock Ridge Extensions ---")
			fmt.Println("Rock Ridge Enabled: YES")
			fmt.Printf("  Number of Entries with Extended Attributes: %d\n", rrEntries)
		} else {
			fmt.Println("\nRock Ridge Extensions: NOT PRESENT")
		}

		if img.HasElTorito() {
			fmt.Println("\n--- El Torito Boot Extensions ---")
			fmt.Println("El Torito Boot Support: YES")
		}
	}

	fmt.Println("=========================")
	return nil
}

func main() {

	u := usage.NewUsage(
		usage.WithApplicationVersion(version.Version()),
		usage.WithApplicationBranch(version.Branch()),
		usage.WithApplicationBuildDate(version.Date()),
		usage.WithApplicationCommitHash(version.Revision()),
		usage.WithApplicationName("isoview"),
		usage.WithApplicationDescription("isoview is a command-line tool for inspecting ISO9660 images, including Rock Ridge, Joliet, and El Torito extensions. It provides detailed volume information, lists files and directories, decodes long filenames, and identifies bootable images."),
	)

	help := u.AddBooleanOption("h", "help", false, "Show this help message", "optional", nil)
	verbose := u.AddBooleanOption("v", "verbose", false, "Print verbose output", "", nil)
	path := u.AddArgument(1, "iso-path", "Path to the ISO image to inspect", "")
	parsed := u.Parse()

	if !parsed {
		u.PrintError(fmt.Errorf("failed to parse arguments"))
		os.Exit(1)
	}

	if *help {
		u.PrintUsage()
		os.Exit(0)
	}

	if path == nil || *path == "" {
		u.PrintError(fmt.Errorf("location of the iso file <iso-path> must be provided"))
		os.Exit(1)
	}

	img, err := iso.Open(*path, iso.WithParseOnOpen(true))
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}
	defer img.Close()

	if err := DisplayISOInfo(img, *verbose); err != nil {
		u.PrintError(err)
		os.Exit(1)
	}
}
