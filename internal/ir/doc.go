// Package ir provides the expression representation shared by both
// evaluation modes of collx.
//
// An expression is either a property path ("books->price") or a function
// call (["SUM", "books->price"]). Callers usually hand expressions over in
// their raw form, decoded from JSON or YAML as []any, map[string]any and
// scalars; Parse turns that raw form into a typed Expr.
//
// This package contains no evaluation logic. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Raw function arguments stay unparsed until the function consumes them
//   - Undefined is distinct from nil (a type mismatch, not a null)
//   - Value comparison is numeric when either operand is a number, textual
//     otherwise (see Compare)
//   - Canonical encoding is the only serialization used for expression hashes
package ir
