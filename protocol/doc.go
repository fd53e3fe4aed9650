// Package protocol implements the Motion gateway UDP wire protocol.
//
// This package handles construction, parsing and validation of the JSON
// envelopes exchanged with Motion blind gateways, plus the AES payload
// encryption layered on top of them. It is transport-agnostic: callers hand
// it raw datagrams and get typed messages back.
//
// # Protocol Overview
//
// Gateways listen on UDP port 32100 for unicast commands and for the
// multicast discovery probe sent to group 238.0.0.18. Replies and
// unsolicited pushes arrive on port 32101. Every datagram carries a single
// JSON document:
//   - msgType: message kind (GetDeviceList, ReadDevice, WriteDevice, their
//     Acks, and the push kinds Report and Heartbeat)
//   - mac/deviceType: target or source device identity
//   - msgID: UTC timestamp correlation stamp (yyyyMMddHHmmssmmm)
//   - token: gateway-issued key material (device-list acks)
//   - actionResult: plaintext error string on failed commands
//   - data: uppercase hex AES ciphertext of the structured payload body
//
// # Encryption
//
// The 16-character account key printed in the vendor app is combined with
// the gateway-issued token into a per-session AES-128 key (MD5 over the two
// concatenated). Payload bodies are PKCS#7 padded, AES encrypted and hex
// encoded into the data field. The gateway derives the same key on its
// side, so a payload that fails to decrypt means a wrong key, a stale
// token or a corrupted packet.
//
// The device-list exchange is the one exception: its roster travels in
// plaintext because its acknowledgement is what carries the token in the
// first place, and discovery must read gateway identity without any key.
//
// # Usage Example - Command Round Trip
//
//	sessionKey, err := protocol.DeriveSessionKey(key, token)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	req := &protocol.Envelope{
//	    MsgType:    protocol.TypeWriteDevice,
//	    MAC:        mac,
//	    DeviceType: protocol.DeviceTypeBlind,
//	    MsgID:      protocol.NewMsgID(time.Now()),
//	}
//	err = req.EncryptFrom(sessionKey, &protocol.Command{
//	    Operation: protocol.Int(protocol.OpOpen),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	datagram, _ := req.Marshal()
//
//	// ... exchange datagram over UDP ...
//
//	resp, err := protocol.ParseEnvelope(reply)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := protocol.MatchAck(req.MsgType, resp.MsgType); err != nil {
//	    log.Fatal(err)
//	}
//	var status protocol.DeviceStatus
//	if err := resp.DecryptInto(sessionKey, &status); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Handling
//
// The package distinguishes three sentinel errors, all reachable through
// errors.Is after wrapping:
//   - ErrMalformed: the datagram is not a valid envelope
//   - ErrUnknownMessageType: a response type that does not acknowledge the
//     request, or an unrecognized push kind
//   - ErrDecrypt: the data field failed hex decoding, block alignment or
//     padding validation
//
// # Thread Safety
//
// All functions are stateless and safe for concurrent use.
package protocol
