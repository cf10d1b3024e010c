//go:build darwin

package permissions

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework AVFoundation -framework CoreGraphics
#import <AVFoundation/AVFoundation.h>
#import <CoreGraphics/CoreGraphics.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}

int checkScreenCapturePermission() {
    return CGPreflightScreenCaptureAccess() ? 1 : 0;
}

void requestScreenCapturePermission() {
    CGRequestScreenCaptureAccess();
}
*/
import "C"

import "fmt"

const (
	PermissionNotDetermined = 0
	PermissionRestricted    = 1
	PermissionDenied        = 2
	PermissionAuthorized    = 3
)

// screenCaptureBackend needs Screen Recording rather than Microphone access.
const screenCaptureBackend = "screencapturekit"

// CheckMicrophone returns the current microphone permission status
func CheckMicrophone() (int, error) {
	status := int(C.checkMicrophonePermission())
	return status, nil
}

// RequestMicrophone triggers the system microphone permission dialog
func RequestMicrophone() error {
	C.requestMicrophonePermission()
	return nil
}

// CheckScreenCapture reports whether the app may record the screen, which
// includes system audio.
func CheckScreenCapture() (bool, error) {
	return C.checkScreenCapturePermission() == 1, nil
}

// RequestScreenCapture triggers the system Screen Recording prompt
func RequestScreenCapture() error {
	C.requestScreenCapturePermission()
	return nil
}

// EnsurePermissions checks and requests the access the capture backend
// needs.
func EnsurePermissions(backend string) error {
	if backend == screenCaptureBackend {
		granted, _ := CheckScreenCapture()
		if !granted {
			fmt.Println("⚠️  Screen Recording permission required for system audio")
			fmt.Println("   Go to: System Settings → Privacy & Security → Screen Recording")
			RequestScreenCapture()
			return fmt.Errorf("screen recording permission not granted")
		}
		return nil
	}

	micStatus, _ := CheckMicrophone()
	if micStatus != PermissionAuthorized {
		fmt.Println("⚠️  Microphone permission required")
		RequestMicrophone()
		return fmt.Errorf("microphone permission not granted")
	}

	return nil
}
