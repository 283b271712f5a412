// SPDX-License-Identifier: MPL-2.0

package scenario

import (
	"errors"
	"fmt"
)

const (
	// CategoryNetworking covers connectivity, DNS, and routing faults.
	CategoryNetworking Category = "networking"
	// CategoryFileSystem covers disk, mount, and file faults.
	CategoryFileSystem Category = "file_system"
	// CategoryProcessManagement covers runaway, zombie, and stuck processes.
	CategoryProcessManagement Category = "process_management"
	// CategoryPermissions covers ownership and mode faults.
	CategoryPermissions Category = "permissions"
	// CategoryServiceConfiguration covers broken service configuration.
	CategoryServiceConfiguration Category = "service_configuration"
	// CategoryResourceUsage covers memory, CPU, and disk pressure.
	CategoryResourceUsage Category = "resource_usage"
	// CategoryPackageManagement covers broken package state.
	CategoryPackageManagement Category = "package_management"

	// DifficultyEasy is the default difficulty.
	DifficultyEasy Difficulty = "easy"
	// DifficultyMedium is the intermediate difficulty.
	DifficultyMedium Difficulty = "medium"
	// DifficultyHard is the hardest difficulty.
	DifficultyHard Difficulty = "hard"
)

var (
	// ErrInvalidCategory is the sentinel wrapped by Category.Validate errors.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrInvalidDifficulty is the sentinel wrapped by Difficulty.Validate errors.
	ErrInvalidDifficulty = errors.New("invalid difficulty")

	allCategories = []Category{
		CategoryNetworking,
		CategoryFileSystem,
		CategoryProcessManagement,
		CategoryPermissions,
		CategoryServiceConfiguration,
		CategoryResourceUsage,
		CategoryPackageManagement,
	}
)

type (
	// Category is a tag from the fixed scenario vocabulary.
	Category string

	// Difficulty is the requested challenge level.
	Difficulty string
)

// Categories returns the fixed category vocabulary in display order.
func Categories() []Category {
	return append([]Category(nil), allCategories...)
}

// String returns the string representation of the Category.
func (c Category) String() string { return string(c) }

// Known reports whether c is part of the vocabulary.
func (c Category) Known() bool {
	for _, k := range allCategories {
		if c == k {
			return true
		}
	}
	return false
}

// Validate returns an error if c is not part of the vocabulary.
// The zero value is valid and means "any category".
func (c Category) Validate() error {
	if c == "" || c.Known() {
		return nil
	}
	return fmt.Errorf("%w %q (valid: %v)", ErrInvalidCategory, string(c), allCategories)
}

// String returns the string representation of the Difficulty.
func (d Difficulty) String() string { return string(d) }

// Validate returns an error if d is not easy, medium, or hard.
// The zero value is valid and means DifficultyEasy.
func (d Difficulty) Validate() error {
	switch d {
	case "", DifficultyEasy, DifficultyMedium, DifficultyHard:
		return nil
	default:
		return fmt.Errorf("%w %q (valid: easy, medium, hard)", ErrInvalidDifficulty, string(d))
	}
}

// OrDefault returns DifficultyEasy for the zero value.
func (d Difficulty) OrDefault() Difficulty {
	if d == "" {
		return DifficultyEasy
	}
	return d
}
