// Package ctap2 parses CTAP2 makeCredential and getAssertion request bodies:
// canonical CBOR maps keyed by small integers. Parsing never materializes a
// full tree; only recognized keys get a second, typed decode pass, and
// excludeList/allowList are kept as their still-encoded array bytes rather
// than a live cursor, so the credential engine can walk them later without
// tying their lifetime to a decoder that has already moved on.
package ctap2

import (
	"crypto/sha256"
	"errors"

	"github.com/fxamacker/cbor/v2"
)

// CTAP2 status codes relevant to request parsing (CTAP 2.1 §6.3).
const (
	ErrInvalidCBOR          = 0x12
	ErrCBORUnexpectedType   = 0x11
	ErrMissingParameter     = 0x14
	ErrLimitExceeded        = 0x15
	ErrUnsupportedAlgorithm = 0x26
	ErrInvalidCredential    = 0x22
	ErrPinAuthInvalid       = 0x33
)

// Field-size bounds carried over from the original decoder.
const (
	ClientDataHashSize = 32
	PinAuthSize        = 16
	DomainNameMaxSize  = 253
	UserIDMaxSize      = 64
	UserNameLimit      = 64
	DisplayNameLimit   = 64
	IconLimit          = 128

	coseAlgES256 = -7
)

// ParamBit flags which fields a request actually carried, mirroring the
// source's parsedParams bitmask.
type ParamBit uint16

const (
	ParamClientDataHash ParamBit = 1 << iota
	ParamRPID
	ParamUser
	ParamPubKeyCredParams
	ParamExcludeList
	ParamAllowList
	ParamOptions
	ParamPinAuth
	ParamPinProtocol
)

// Error is a CTAP2 status code returned by a parser, distinct from a Go
// decode error so callers can map it straight onto the wire.
type Error uint8

func (e Error) Error() string { return "ctap2: status " + hexByte(uint8(e)) }

func hexByte(b uint8) string {
	const digits = "0123456789abcdef"
	return string([]byte{'0', 'x', digits[b>>4], digits[b&0xf]})
}

// User is the decoded publicKeyCredentialUserEntity.
type User struct {
	ID          []byte
	Name        string
	DisplayName string
	Icon        string
}

// CredentialList holds the still-encoded bytes of an excludeList/allowList
// array and its entry count, not a live decoder: CredentialAt re-enters a
// fresh decoder over those bytes on demand.
type CredentialList struct {
	raw []byte
	n   int
}

// Len reports how many entries the list holds.
func (c CredentialList) Len() int { return c.n }

// CredentialAt decodes the id field of the i'th entry. Type was already
// validated as "public-key" during the first pass.
func (c CredentialList) CredentialAt(i int) ([]byte, error) {
	var entries []struct {
		ID   []byte `cbor:"id"`
		Type string `cbor:"type"`
	}
	if err := canonicalMode.Unmarshal(c.raw, &entries); err != nil {
		return nil, Error(ErrInvalidCBOR)
	}
	if i < 0 || i >= len(entries) {
		return nil, errors.New("ctap2: credential index out of range")
	}
	return entries[i].ID, nil
}

// MakeCredentialRequest is the parsed authenticatorMakeCredential request.
type MakeCredentialRequest struct {
	ClientDataHash [ClientDataHashSize]byte
	RPIDHash       [32]byte
	User           User
	ExcludeList    CredentialList
	RK, UV         bool
	PinAuth        []byte
	PinProtocol    int64
	ParsedParams   ParamBit
}

// GetAssertionRequest is the parsed authenticatorGetAssertion request.
type GetAssertionRequest struct {
	ClientDataHash [ClientDataHashSize]byte
	RPIDHash       [32]byte
	AllowList      CredentialList
	UV, UP         bool
	PinAuth        []byte
	PinProtocol    int64
	ParsedParams   ParamBit
}

// canonicalMode rejects indefinite-length items and duplicate map keys, the
// two ways a non-canonical encoder could produce an equivalent-but-different
// byte string for the same logical request.
var canonicalMode = func() cbor.DecMode {
	m, err := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(err) // fixed, known-good options; cannot fail at runtime
	}
	return m
}()

func topLevelMap(body []byte) (map[int64]cbor.RawMessage, error) {
	var m map[int64]cbor.RawMessage
	if err := canonicalMode.Unmarshal(body, &m); err != nil {
		var ute *cbor.UnmarshalTypeError
		if errors.As(err, &ute) {
			return nil, Error(ErrCBORUnexpectedType)
		}
		return nil, Error(ErrInvalidCBOR)
	}
	return m, nil
}

func decodeField(raw cbor.RawMessage, out interface{}) error {
	if err := canonicalMode.Unmarshal(raw, out); err != nil {
		var ute *cbor.UnmarshalTypeError
		if errors.As(err, &ute) {
			return Error(ErrCBORUnexpectedType)
		}
		return Error(ErrInvalidCBOR)
	}
	return nil
}

func decodeByteString(raw cbor.RawMessage, maxLen int) ([]byte, error) {
	var b []byte
	if err := decodeField(raw, &b); err != nil {
		return nil, err
	}
	if len(b) > maxLen {
		return nil, Error(ErrLimitExceeded)
	}
	return b, nil
}

func decodeTextString(raw cbor.RawMessage, maxLen int) (string, error) {
	var s string
	if err := decodeField(raw, &s); err != nil {
		return "", err
	}
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s, nil
}

func parseRP(raw cbor.RawMessage) ([32]byte, error) {
	var fields map[string]cbor.RawMessage
	if err := decodeField(raw, &fields); err != nil {
		return [32]byte{}, err
	}
	idRaw, ok := fields["id"]
	if !ok {
		return [32]byte{}, nil
	}
	return hashRPID(idRaw)
}

// hashRPID decodes an RP id text string and hashes it at its full decoded
// length, so a long RP id never collides with its own truncated prefix.
// DomainNameMaxSize is not applied here, and no truncated copy of the id is
// kept.
func hashRPID(raw cbor.RawMessage) ([32]byte, error) {
	var s string
	if err := decodeField(raw, &s); err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256([]byte(s)), nil
}

func parseUser(raw cbor.RawMessage) (User, error) {
	var fields map[string]cbor.RawMessage
	if err := decodeField(raw, &fields); err != nil {
		return User{}, err
	}
	var u User
	if idRaw, ok := fields["id"]; ok {
		id, err := decodeByteString(idRaw, UserIDMaxSize)
		if err != nil {
			return User{}, err
		}
		u.ID = id
	}
	if nameRaw, ok := fields["name"]; ok {
		name, err := decodeTextString(nameRaw, UserNameLimit)
		if err != nil {
			return User{}, err
		}
		u.Name = name
	}
	if dnRaw, ok := fields["displayName"]; ok {
		dn, err := decodeTextString(dnRaw, DisplayNameLimit)
		if err != nil {
			return User{}, err
		}
		u.DisplayName = dn
	}
	if iconRaw, ok := fields["icon"]; ok {
		icon, err := decodeTextString(iconRaw, IconLimit)
		if err != nil {
			return User{}, err
		}
		u.Icon = icon
	}
	return u, nil
}

// parsePubKeyCredParams succeeds as soon as it finds a {"type":"public-key",
// "alg":-7} entry; exhausting the array without a match is unsupported.
func parsePubKeyCredParams(raw cbor.RawMessage) error {
	var params []struct {
		Type string `cbor:"type"`
		Alg  int64  `cbor:"alg"`
	}
	if err := decodeField(raw, &params); err != nil {
		return err
	}
	for _, p := range params {
		if p.Type == "public-key" && p.Alg == coseAlgES256 {
			return nil
		}
	}
	return Error(ErrUnsupportedAlgorithm)
}

// checkCredentialDescriptors validates every entry is type "public-key" with
// a byte-string id, without retaining the decoded values.
func checkCredentialDescriptors(raw cbor.RawMessage) (CredentialList, error) {
	var entries []struct {
		ID   []byte `cbor:"id"`
		Type string `cbor:"type"`
	}
	if err := decodeField(raw, &entries); err != nil {
		return CredentialList{}, err
	}
	for _, e := range entries {
		if e.Type != "public-key" {
			return CredentialList{}, Error(ErrInvalidCredential)
		}
	}
	return CredentialList{raw: raw, n: len(entries)}, nil
}

func parseOptions(raw cbor.RawMessage) (rk, uv, up bool, err error) {
	var opts map[string]bool
	if err := decodeField(raw, &opts); err != nil {
		return false, false, false, err
	}
	rk, uv, up = opts["rk"], opts["uv"], opts["up"]
	return rk, uv, up, nil
}

func parsePinAuth(raw cbor.RawMessage) ([]byte, error) {
	b, err := decodeByteString(raw, PinAuthSize)
	if err != nil {
		return nil, err
	}
	if len(b) != PinAuthSize {
		return nil, Error(ErrInvalidCBOR)
	}
	return b, nil
}

func parsePinProtocol(raw cbor.RawMessage) (int64, error) {
	var v int64
	if err := decodeField(raw, &v); err != nil {
		return 0, err
	}
	if v != 1 {
		return 0, Error(ErrPinAuthInvalid)
	}
	return v, nil
}

// makeCredential top-level key tags.
const (
	mcClientDataHash   = 1
	mcRP               = 2
	mcUser             = 3
	mcPubKeyCredParams = 4
	mcExcludeList      = 5
	mcExtensions       = 6
	mcOptions          = 7
	mcPinAuth          = 8
	mcPinProtocol      = 9
)

// ParseMakeCredential decodes a canonical authenticatorMakeCredential
// request body.
func ParseMakeCredential(body []byte) (*MakeCredentialRequest, error) {
	m, err := topLevelMap(body)
	if err != nil {
		return nil, err
	}
	req := &MakeCredentialRequest{}
	for key, raw := range m {
		switch key {
		case mcClientDataHash:
			b, err := decodeByteString(raw, ClientDataHashSize)
			if err != nil {
				return nil, err
			}
			if len(b) != ClientDataHashSize {
				return nil, Error(ErrInvalidCBOR)
			}
			copy(req.ClientDataHash[:], b)
			req.ParsedParams |= ParamClientDataHash

		case mcRP:
			hash, err := parseRP(raw)
			if err != nil {
				return nil, err
			}
			req.RPIDHash = hash
			req.ParsedParams |= ParamRPID

		case mcUser:
			u, err := parseUser(raw)
			if err != nil {
				return nil, err
			}
			req.User = u
			req.ParsedParams |= ParamUser

		case mcPubKeyCredParams:
			if err := parsePubKeyCredParams(raw); err != nil {
				return nil, err
			}
			req.ParsedParams |= ParamPubKeyCredParams

		case mcExcludeList:
			list, err := checkCredentialDescriptors(raw)
			if err != nil {
				return nil, err
			}
			req.ExcludeList = list
			req.ParsedParams |= ParamExcludeList

		case mcExtensions:
			// ignored

		case mcOptions:
			rk, uv, _, err := parseOptions(raw)
			if err != nil {
				return nil, err
			}
			req.RK, req.UV = rk, uv
			req.ParsedParams |= ParamOptions

		case mcPinAuth:
			auth, err := parsePinAuth(raw)
			if err != nil {
				return nil, err
			}
			req.PinAuth = auth
			req.ParsedParams |= ParamPinAuth

		case mcPinProtocol:
			v, err := parsePinProtocol(raw)
			if err != nil {
				return nil, err
			}
			req.PinProtocol = v
			req.ParsedParams |= ParamPinProtocol

		default:
			// unknown key, ignored
		}
	}
	if req.ParsedParams&ParamPinAuth != 0 && req.ParsedParams&ParamPinProtocol == 0 {
		return nil, Error(ErrPinAuthInvalid)
	}
	return req, nil
}

// getAssertion top-level key tags.
const (
	gaRPID          = 1
	gaClientDataHash = 2
	gaAllowList     = 3
	gaExtensions    = 4
	gaOptions       = 5
	gaPinAuth       = 6
	gaPinProtocol   = 7
)

// ParseGetAssertion decodes a canonical authenticatorGetAssertion request
// body.
func ParseGetAssertion(body []byte) (*GetAssertionRequest, error) {
	m, err := topLevelMap(body)
	if err != nil {
		return nil, err
	}
	req := &GetAssertionRequest{}
	for key, raw := range m {
		switch key {
		case gaRPID:
			hash, err := hashRPID(raw)
			if err != nil {
				return nil, err
			}
			req.RPIDHash = hash
			req.ParsedParams |= ParamRPID

		case gaClientDataHash:
			b, err := decodeByteString(raw, ClientDataHashSize)
			if err != nil {
				return nil, err
			}
			if len(b) != ClientDataHashSize {
				return nil, Error(ErrInvalidCBOR)
			}
			copy(req.ClientDataHash[:], b)
			req.ParsedParams |= ParamClientDataHash

		case gaAllowList:
			list, err := checkCredentialDescriptors(raw)
			if err != nil {
				return nil, err
			}
			req.AllowList = list
			req.ParsedParams |= ParamAllowList

		case gaExtensions:
			// ignored

		case gaOptions:
			_, uv, up, err := parseOptions(raw)
			if err != nil {
				return nil, err
			}
			req.UV, req.UP = uv, up
			req.ParsedParams |= ParamOptions

		case gaPinAuth:
			auth, err := parsePinAuth(raw)
			if err != nil {
				return nil, err
			}
			req.PinAuth = auth
			req.ParsedParams |= ParamPinAuth

		case gaPinProtocol:
			v, err := parsePinProtocol(raw)
			if err != nil {
				return nil, err
			}
			req.PinProtocol = v
			req.ParsedParams |= ParamPinProtocol

		default:
			// unknown key, ignored
		}
	}
	if req.ParsedParams&ParamPinAuth != 0 && req.ParsedParams&ParamPinProtocol == 0 {
		return nil, Error(ErrPinAuthInvalid)
	}
	return req, nil
}
