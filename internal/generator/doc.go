// SPDX-License-Identifier: MPL-2.0

// Package generator produces issues on demand.
//
// GenAI asks a Gemini model for a scenario constrained to the issue JSON
// schema. FromCatalog picks a predefined issue. Both reject structurally
// invalid issues with a failure.KindValidation error rather than repairing
// them; transport problems are failure.KindGeneration.
package generator
