// Package jwt issues and verifies subject tokens: signed JWTs whose sub
// claim names the acting actor and whose grp claim lists the groups the
// issuer vouches for. The middleware package turns a verified token into
// an objperm subject.
//
// # What this package must NOT do
//
//   - Decide permissions. Tokens only identify who is asking.
//   - Fetch keys over the network.
package jwt
