// Package services exposes the portfolio aggregation protocol over HTTP.
//
// The protocol service maps the ledger's surfaces onto routes:
//
//   - Administration and round lifecycle under /admin, authenticated with
//     the operator's admin token; admin calls act as the ledger owner.
//   - Provider submissions on POST /submit, authenticated by the Signed
//     envelope signature; the signer's public key is the provider address.
//   - The oracle callback on POST /oracle/callback, accepted only from the
//     trusted oracle identity (sender verification substitutes for the
//     substrate's caller-identity check).
//   - Read access to round status and published results.
//
// Published results and the submission log are persisted through a
// ResultStore, backed by PostgreSQL in production and memory in tests.
package services
