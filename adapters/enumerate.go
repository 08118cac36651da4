package adapters

import (
	"context"
	"fmt"

	"github.com/nvr-ai/go-npu/inference"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Factory is the entry point of a discovery interface.
type Factory interface {
	// Adapters lists the adapters matching filter.
	Adapters(filter Filter) (List, error)
	Close() error
}

// List is a snapshot of matching adapters.
type List interface {
	Count() int
	Adapter(index int) (Device, error)
	Close() error
}

// Device is one adapter.
type Device interface {
	// Property returns the raw property bytes, or ErrPropertyUnsupported.
	Property(p Property) ([]byte, error)
	Close() error
}

// Opener creates a discovery factory.
type Opener func() (Factory, error)

// Report is the outcome of one enumeration.
type Report struct {
	Filter Filter
	// Count is the number of matching adapters the list reported.
	Count int
	// Adapters holds one record per adapter that could be opened.
	Adapters []Record
	// Err is the failure that stopped enumeration, if any.
	Err error
}

// Enumerate lists adapters matching filter and reads their properties.
//
// Failures never propagate: a factory or list failure ends enumeration with Report.Err set, a device
// that cannot be opened is skipped, and an unsupported property is left nil. Every object obtained
// from the discovery interface is released before Enumerate returns.
func Enumerate(ctx context.Context, open Opener, filter Filter) Report {
	logger := klog.FromContext(ctx).WithValues("filter", filter)
	rep := Report{Filter: filter}

	scope := inference.NewScope()
	defer func() {
		if err := scope.Close(); err != nil {
			logger.Error(err, "Releasing adapter objects")
		}
	}()

	factory, err := open()
	if err != nil {
		logger.Error(err, "Creating adapter factory")
		rep.Err = errors.Wrap(err, "creating adapter factory")
		return rep
	}
	scope.Add("adapter factory", factory.Close)

	list, err := factory.Adapters(filter)
	if err != nil {
		logger.Error(err, "Creating adapter list")
		rep.Err = errors.Wrap(err, "creating adapter list")
		return rep
	}
	scope.Add("adapter list", list.Close)

	rep.Count = list.Count()
	for i := 0; i < rep.Count; i++ {
		dev, err := list.Adapter(i)
		if err != nil {
			logger.Error(err, "Opening adapter", "index", i)
			continue
		}
		scope.Add(fmt.Sprintf("adapter %d", i), dev.Close)
		rep.Adapters = append(rep.Adapters, readRecord(logger, i, dev))
	}
	logger.V(2).Info("Adapter enumeration complete", "count", rep.Count, "read", len(rep.Adapters))
	return rep
}

func readRecord(logger klog.Logger, index int, dev Device) Record {
	rec := Record{Index: index}
	read := func(p Property, decode func([]byte) error) {
		raw, err := dev.Property(p)
		if err == nil {
			err = decode(raw)
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrPropertyUnsupported):
			logger.V(3).Info("Adapter property unsupported", "index", index, "property", p)
		default:
			logger.Error(err, "Reading adapter property", "index", index, "property", p)
		}
	}

	read(PropertyHardwareID, func(b []byte) error {
		v, err := decodeHardwareID(b)
		if err == nil {
			rec.HardwareID = &v
		}
		return err
	})
	read(PropertyDriverVersion, func(b []byte) error {
		v, err := decodeDriverVersion(b)
		if err == nil {
			rec.DriverVersion = &v
		}
		return err
	})
	read(PropertyDriverDescription, func(b []byte) error {
		v := decodeString(b)
		rec.DriverDescription = &v
		return nil
	})
	read(PropertyIsHardware, func(b []byte) error {
		v, err := decodeBool(b)
		if err == nil {
			rec.IsHardware = &v
		}
		return err
	})
	read(PropertyInstanceLUID, func(b []byte) error {
		v, err := decodeLUID(b)
		if err == nil {
			rec.LUID = &v
		}
		return err
	})
	return rec
}
