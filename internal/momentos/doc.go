// Package momentos is the HTTP client for the Momentos content service.
//
// Control-plane calls (login, group and event listings, event detail) decode
// JSON and classify failures with the services error markers: 401 and 403 map
// to ErrAuth, other error statuses and transport failures to ErrNetwork, and
// body shape mismatches to ErrDecode. Recording downloads stream the bytes
// behind a presigned URL without sending credentials.
package momentos
