// SPDX-FileCopyrightText: 2026 The meshwork-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package probe

import (
	"fmt"
	"io"
	"reflect"

	"github.com/dtn7/cboring"
)

// probeMessage describes a message which might be sent over the WebSocket
// probe. Implementations are available at the end of this file.
type probeMessage interface {
	// typeCode is a unique identifier for each message type.
	typeCode() uint64

	cboring.CborMarshaler
}

const (
	pamStatusCode    uint64 = 0
	pamSubscribeCode uint64 = 1
	pamPublishCode   uint64 = 2
	pamDeliverCode   uint64 = 3
)

var pamMapping = map[interface{}]reflect.Type{
	pamStatusCode:    reflect.TypeOf(pamStatus{}),
	pamSubscribeCode: reflect.TypeOf(pamSubscribe{}),
	pamPublishCode:   reflect.TypeOf(pamPublish{}),
	pamDeliverCode:   reflect.TypeOf(pamDeliver{}),
}

// marshalCbor writes a probeMessage wrapped with its type code as CBOR.
func marshalCbor(pam probeMessage, w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(pam.typeCode(), w); err != nil {
		return err
	}

	if err := cboring.Marshal(pam, w); err != nil {
		return err
	}

	return nil
}

// unmarshalCbor reads a new probeMessage based on its type code from CBOR.
func unmarshalCbor(r io.Reader) (pam probeMessage, err error) {
	if n, arrErr := cboring.ReadArrayLength(r); arrErr != nil {
		err = arrErr
		return
	} else if n != 2 {
		err = fmt.Errorf("expected array of two elements, got %d", n)
		return
	}

	if n, typeErr := cboring.ReadUInt(r); typeErr != nil {
		err = typeErr
		return
	} else if t, ok := pamMapping[n]; !ok {
		err = fmt.Errorf("no known probe message type code %d", n)
		return
	} else {
		pam = reflect.New(t).Interface().(probeMessage)
	}

	if pamErr := cboring.Unmarshal(pam, r); pamErr != nil {
		err = pamErr
		return
	}

	return
}

// pamStatus acknowledges a request; an empty error string means success.
type pamStatus struct {
	errorMsg string
}

func newStatusMessage(err error) *pamStatus {
	if err != nil {
		return &pamStatus{errorMsg: err.Error()}
	}
	return &pamStatus{}
}

func (pam *pamStatus) typeCode() uint64 { return pamStatusCode }

func (pam *pamStatus) MarshalCbor(w io.Writer) error {
	return cboring.WriteTextString(pam.errorMsg, w)
}

func (pam *pamStatus) UnmarshalCbor(r io.Reader) (err error) {
	pam.errorMsg, err = cboring.ReadTextString(r)
	return
}

// pamSubscribe registers a client's interest in one channel.
type pamSubscribe struct {
	channel uint16
}

func (pam *pamSubscribe) typeCode() uint64 { return pamSubscribeCode }

func (pam *pamSubscribe) MarshalCbor(w io.Writer) error {
	return cboring.WriteUInt(uint64(pam.channel), w)
}

func (pam *pamSubscribe) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	if n > 65535 {
		return fmt.Errorf("channel %d exceeds 16 bit", n)
	}
	pam.channel = uint16(n)
	return nil
}

// pamPublish asks the node to publish a payload on one channel.
type pamPublish struct {
	channel uint16
	payload []byte
}

func (pam *pamPublish) typeCode() uint64 { return pamPublishCode }

func (pam *pamPublish) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(pam.channel), w); err != nil {
		return err
	}
	return cboring.WriteByteString(pam.payload, w)
}

func (pam *pamPublish) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("expected array of two elements, got %d", n)
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if n > 65535 {
		return fmt.Errorf("channel %d exceeds 16 bit", n)
	} else {
		pam.channel = uint16(n)
	}

	payload, err := cboring.ReadByteString(r)
	if err != nil {
		return err
	}
	pam.payload = payload
	return nil
}

// pamDeliver hands a received message to a client.
type pamDeliver struct {
	channel   uint16
	messageID uint64
	payload   []byte
}

func (pam *pamDeliver) typeCode() uint64 { return pamDeliverCode }

func (pam *pamDeliver) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(pam.channel), w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(pam.messageID, w); err != nil {
		return err
	}
	return cboring.WriteByteString(pam.payload, w)
}

func (pam *pamDeliver) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 3 {
		return fmt.Errorf("expected array of three elements, got %d", n)
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if n > 65535 {
		return fmt.Errorf("channel %d exceeds 16 bit", n)
	} else {
		pam.channel = uint16(n)
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		pam.messageID = n
	}

	payload, err := cboring.ReadByteString(r)
	if err != nil {
		return err
	}
	pam.payload = payload
	return nil
}
