// Package skills maps task types to the skills that satisfy them.
//
// The Registry starts from a built-in catalog covering the sermon pipeline's
// task types and may be replaced wholesale from a YAML file. Lookups never
// fail: an unknown task type yields an empty skill set and callers decide
// whether that is acceptable.
package skills
