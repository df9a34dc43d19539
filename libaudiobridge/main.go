// Command libaudiobridge builds the C shared library:
//
//	go build -buildmode=c-shared -o libaudiobridge.so ./libaudiobridge
//
// The exported functions and callback types are declared in bridge.h.
package main

/*
#include <stdlib.h>
#include "bridge.h"
*/
import "C"

import (
	"unsafe"

	"audiobridge/callback"
	"audiobridge/lifecycle"
)

func main() {}

func errorCallback(cb C.ErrorCallback) callback.ErrorFunc {
	if cb == nil {
		return nil
	}
	return func(msg string) {
		cs := C.CString(msg)
		defer C.free(unsafe.Pointer(cs))
		C.call_error(cb, cs)
	}
}

// Audio

//export audio_capture_check_permission
func audio_capture_check_permission() C.bool {
	return C.bool(guard("audio_capture_check_permission", false, func() bool {
		return current().Gate.Audio()
	}))
}

//export audio_capture_start
func audio_capture_start() C.bool {
	return C.bool(guard("audio_capture_start", false, func() bool {
		return current().Capture.Start()
	}))
}

//export audio_capture_stop
func audio_capture_stop() {
	guardVoid("audio_capture_stop", func() {
		if rt := host.Load(); rt != nil {
			rt.Capture.Stop()
		}
	})
}

//export audio_capture_get_status
func audio_capture_get_status() C.int32_t {
	return C.int32_t(guard("audio_capture_get_status", lifecycle.Errored.Code(), func() int32 {
		return captureStatus()
	}))
}

//export audio_capture_set_callback
func audio_capture_set_callback(cb C.AudioSampleCallback) {
	guardVoid("audio_capture_set_callback", func() {
		if cb == nil {
			callback.Default().SetSample(nil)
			return
		}
		callback.Default().SetSample(func(samples []float32, ts float64) {
			var p *C.float
			if len(samples) > 0 {
				p = (*C.float)(unsafe.Pointer(&samples[0]))
			}
			C.call_sample(cb, p, C.int32_t(len(samples)), C.double(ts))
		})
	})
}

//export audio_capture_set_error_callback
func audio_capture_set_error_callback(cb C.ErrorCallback) {
	guardVoid("audio_capture_set_error_callback", func() {
		callback.Default().SetAudioError(errorCallback(cb))
	})
}

// Speech

//export speech_check_permission
func speech_check_permission() C.bool {
	return C.bool(guard("speech_check_permission", false, func() bool {
		return current().Gate.Speech()
	}))
}

//export speech_set_language
func speech_set_language(code *C.char) {
	guardVoid("speech_set_language", func() {
		if code == nil {
			return
		}
		current().Speech.SetLanguage(C.GoString(code))
	})
}

//export speech_supports_on_device
func speech_supports_on_device() C.bool {
	return C.bool(guard("speech_supports_on_device", false, func() bool {
		return current().Speech.SupportsOnDevice()
	}))
}

//export speech_start
func speech_start() C.bool {
	return C.bool(guard("speech_start", false, func() bool {
		return current().Speech.Start()
	}))
}

//export speech_append_audio
func speech_append_audio(samples *C.float, count C.int32_t) {
	guardVoid("speech_append_audio", func() {
		if samples == nil || count <= 0 {
			return
		}
		rt := host.Load()
		if rt == nil {
			return
		}
		buf := unsafe.Slice((*float32)(unsafe.Pointer(samples)), int(count))
		rt.Speech.AppendAudio(buf)
	})
}

//export speech_stop
func speech_stop() {
	guardVoid("speech_stop", func() {
		if rt := host.Load(); rt != nil {
			rt.Speech.Stop()
		}
	})
}

//export speech_get_status
func speech_get_status() C.int32_t {
	return C.int32_t(guard("speech_get_status", lifecycle.Errored.Code(), func() int32 {
		return speechStatus()
	}))
}

//export speech_set_callback
func speech_set_callback(cb C.TranscriptionCallback) {
	guardVoid("speech_set_callback", func() {
		if cb == nil {
			callback.Default().SetTranscription(nil)
			return
		}
		callback.Default().SetTranscription(func(text string, isFinal bool) {
			cs := C.CString(text)
			defer C.free(unsafe.Pointer(cs))
			C.call_transcription(cb, cs, C.bool(isFinal))
		})
	})
}

//export speech_set_error_callback
func speech_set_error_callback(cb C.ErrorCallback) {
	guardVoid("speech_set_error_callback", func() {
		callback.Default().SetSpeechError(errorCallback(cb))
	})
}

// Process

//export audio_bridge_shutdown
func audio_bridge_shutdown() {
	guardVoid("audio_bridge_shutdown", shutdown)
}
